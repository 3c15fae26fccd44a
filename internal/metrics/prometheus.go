// Package metrics registers and records Prometheus metrics for the
// randomness-test subsystems: sample acquisition, the statistical battery,
// the continuous monitor loop, MQTT ingest, and the report HTTP API.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal         prometheus.Counter
	SmallSampleAnalyses   prometheus.Counter
	SampleBytes           prometheus.Histogram
	AcquisitionFailures   *prometheus.CounterVec
	AcquisitionDuration   prometheus.Histogram
	EntropyBitsPerByte    prometheus.Gauge
	MonobitPValue         prometheus.Gauge
	RunsPValue            prometheus.Gauge
	ChiSquareStat         prometheus.Gauge
	ChiSquarePApprox      prometheus.Gauge
	SerialCorrelation     prometheus.Gauge
	MonitorRuns           prometheus.Counter
	MonitorLastRunUnix    prometheus.Gauge
	MQTTConnected         prometheus.Gauge
	MQTTConnects          prometheus.Counter
	MQTTDisconnects       prometheus.Counter
	MQTTReconnects        prometheus.Counter
	MQTTInboundMessages   prometheus.Counter
	MQTTSampleBytes       prometheus.Counter
	MQTTDroppedBytes      prometheus.Counter
	ReportHTTPRequests    *prometheus.CounterVec
	ReportHTTPRateLimited prometheus.Counter
	ReportHTTPLatency     prometheus.Histogram

	metricsMu         sync.RWMutex
	currentRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
	registered        []prometheus.Collector
)

func init() {
	resetMetrics(prometheus.DefaultRegisterer)
}

// SetRegisterer installs a new registerer and reinitializes every metric
// against it, returning the previous registerer so callers can restore it.
// Intended for tests that need an isolated registry.
func SetRegisterer(registerer prometheus.Registerer) prometheus.Registerer {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	previous := currentRegisterer

	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}

	currentRegisterer = registerer
	initializeMetrics(registerer)

	return previous
}

func resetMetrics(registerer prometheus.Registerer) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}

	currentRegisterer = registerer
	initializeMetrics(registerer)
}

// unregisterAll removes every collector created by the last initialization.
// Must be called while holding metricsMu.
func unregisterAll(registerer prometheus.Registerer) {
	for _, collector := range registered {
		registerer.Unregister(collector)
	}
	registered = nil
}

// initializeMetrics creates all collectors using the provided registerer.
// Must be called while holding metricsMu.
func initializeMetrics(registerer prometheus.Registerer) {
	factory := promauto.With(registerer)
	registered = registered[:0]

	track := func(c prometheus.Collector) {
		registered = append(registered, c)
	}

	AnalysesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_analyses_total",
		Help: "Total number of full test-battery runs completed.",
	})
	track(AnalysesTotal)

	SmallSampleAnalyses = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_small_sample_analyses_total",
		Help: "Analyses performed on samples below the recommended minimum size.",
	})
	track(SmallSampleAnalyses)

	SampleBytes = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "randtest_sample_bytes",
		Help:    "Size in bytes of analyzed samples.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
	track(SampleBytes)

	AcquisitionFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "randtest_acquisition_failures_total",
		Help: "Sample acquisition failures by source and reason.",
	}, []string{"source", "reason"})
	track(AcquisitionFailures)

	AcquisitionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "randtest_acquisition_duration_seconds",
		Help:    "Wall-clock time spent acquiring one sample.",
		Buckets: prometheus.DefBuckets,
	})
	track(AcquisitionDuration)

	EntropyBitsPerByte = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_entropy_bits_per_byte",
		Help: "Shannon entropy of the most recent sample, bits per byte.",
	})
	track(EntropyBitsPerByte)

	MonobitPValue = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_monobit_p_value",
		Help: "Monobit frequency test p-value of the most recent sample.",
	})
	track(MonobitPValue)

	RunsPValue = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_runs_p_value",
		Help: "Runs test p-value of the most recent sample.",
	})
	track(RunsPValue)

	ChiSquareStat = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_chi_square",
		Help: "Byte chi-square statistic of the most recent sample (df=255).",
	})
	track(ChiSquareStat)

	ChiSquarePApprox = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_chi_square_p_approx",
		Help: "Approximate chi-square upper-tail probability of the most recent sample.",
	})
	track(ChiSquarePApprox)

	SerialCorrelation = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_serial_correlation",
		Help: "Circular lag-1 serial correlation of the most recent sample.",
	})
	track(SerialCorrelation)

	MonitorRuns = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_monitor_runs_total",
		Help: "Completed iterations of the continuous monitor loop.",
	})
	track(MonitorRuns)

	MonitorLastRunUnix = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_monitor_last_run_timestamp_seconds",
		Help: "Unix time of the last completed monitor iteration.",
	})
	track(MonitorLastRunUnix)

	MQTTConnected = factory.NewGauge(prometheus.GaugeOpts{
		Name: "randtest_mqtt_connected",
		Help: "Whether the MQTT sample feed is currently connected (0 or 1).",
	})
	track(MQTTConnected)

	MQTTConnects = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_mqtt_connects_total",
		Help: "Successful MQTT broker connections.",
	})
	track(MQTTConnects)

	MQTTDisconnects = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_mqtt_disconnects_total",
		Help: "MQTT broker disconnections.",
	})
	track(MQTTDisconnects)

	MQTTReconnects = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_mqtt_reconnects_total",
		Help: "MQTT broker reconnections after a lost connection.",
	})
	track(MQTTReconnects)

	MQTTInboundMessages = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_mqtt_inbound_messages_total",
		Help: "MQTT messages received on subscribed topics.",
	})
	track(MQTTInboundMessages)

	MQTTSampleBytes = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_mqtt_sample_bytes_total",
		Help: "Raw sample bytes collected from MQTT payloads.",
	})
	track(MQTTSampleBytes)

	MQTTDroppedBytes = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_mqtt_dropped_bytes_total",
		Help: "Sample bytes discarded because the MQTT buffer was full.",
	})
	track(MQTTDroppedBytes)

	ReportHTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "randtest_report_http_requests_total",
		Help: "Report API requests by HTTP status code.",
	}, []string{"status"})
	track(ReportHTTPRequests)

	ReportHTTPRateLimited = factory.NewCounter(prometheus.CounterOpts{
		Name: "randtest_report_http_rate_limited_total",
		Help: "Report API requests rejected by the rate limiter.",
	})
	track(ReportHTTPRateLimited)

	ReportHTTPLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "randtest_report_http_latency_seconds",
		Help:    "Report API request handling latency.",
		Buckets: prometheus.DefBuckets,
	})
	track(ReportHTTPLatency)
}

// RecordAnalysis updates the per-test gauges and counters after one
// completed battery run.
func RecordAnalysis(sampleBytes int, entropy, monobitP, runsP, chiSquare, chiP, rho float64, smallSample bool) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()

	AnalysesTotal.Inc()
	SampleBytes.Observe(float64(sampleBytes))
	EntropyBitsPerByte.Set(entropy)
	MonobitPValue.Set(monobitP)
	RunsPValue.Set(runsP)
	ChiSquareStat.Set(chiSquare)
	ChiSquarePApprox.Set(chiP)
	SerialCorrelation.Set(rho)

	if smallSample {
		SmallSampleAnalyses.Inc()
	}
}

// RecordAcquisitionFailure counts one failed sample acquisition.
func RecordAcquisitionFailure(source, reason string) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	AcquisitionFailures.WithLabelValues(source, reason).Inc()
}

// RecordAcquisitionDuration observes the wall-clock time of one acquisition.
func RecordAcquisitionDuration(d time.Duration) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	AcquisitionDuration.Observe(d.Seconds())
}

// RecordMonitorRun marks one completed monitor iteration at the given time.
func RecordMonitorRun(at time.Time) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MonitorRuns.Inc()
	MonitorLastRunUnix.Set(float64(at.Unix()))
}

// SetMQTTConnected records the MQTT connection state.
func SetMQTTConnected(connected bool) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if connected {
		MQTTConnected.Set(1)
	} else {
		MQTTConnected.Set(0)
	}
}

// RecordMQTTConnect counts a successful broker connection.
func RecordMQTTConnect() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTConnects.Inc()
}

// RecordMQTTDisconnect counts a broker disconnection.
func RecordMQTTDisconnect() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTDisconnects.Inc()
}

// RecordMQTTReconnect counts a broker reconnection.
func RecordMQTTReconnect() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTReconnects.Inc()
}

// RecordMQTTMessage counts one inbound MQTT message.
func RecordMQTTMessage() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTInboundMessages.Inc()
}

// RecordMQTTSampleBytes counts raw sample bytes collected from payloads.
func RecordMQTTSampleBytes(n int) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTSampleBytes.Add(float64(n))
}

// RecordMQTTDroppedBytes counts bytes discarded due to buffer pressure.
func RecordMQTTDroppedBytes(n int) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTDroppedBytes.Add(float64(n))
}

// RecordReportHTTPRequest counts one report API request and its latency.
func RecordReportHTTPRequest(status int, d time.Duration) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	ReportHTTPRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	ReportHTTPLatency.Observe(d.Seconds())
}

// RecordReportHTTPRateLimited counts one rate-limited report API request.
func RecordReportHTTPRateLimited() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	ReportHTTPRateLimited.Inc()
}
