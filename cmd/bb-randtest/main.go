// Command bb-randtest assesses the statistical quality of hardware entropy
// byte streams. In one-shot mode it acquires a single sample, runs the test
// battery, and prints a text report. In serve mode it runs the continuous
// monitor together with the report and metrics HTTP servers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/acquire"
	"github.com/Thiagojm/bb-randtest/internal/api"
	randconfig "github.com/Thiagojm/bb-randtest/internal/config"
	"github.com/Thiagojm/bb-randtest/internal/metrics"
	"github.com/Thiagojm/bb-randtest/internal/monitor"
	randmqtt "github.com/Thiagojm/bb-randtest/internal/mqtt"
	"github.com/Thiagojm/bb-randtest/internal/report"
	"github.com/Thiagojm/bb-randtest/internal/stats"

	"github.com/joho/godotenv"
)

const defaultOneShotBits = 16384

var (
	loadConfigFunc      = loadConfig
	buildSourceFunc     = buildSource
	waitForShutdownFunc = waitForShutdown
	newReportServerFunc = func(addr string, provider api.ReportProvider, allowPublic bool, retryAfter int, rateLimitRPS int, rateLimitBurst int) (reportServer, error) {
		return api.NewHTTPServer(addr, provider, allowPublic, retryAfter, rateLimitRPS, rateLimitBurst)
	}
	newMetricsServerFunc = func(addr string) metricsServer {
		return metrics.NewServer(addr)
	}
	randconfigLoadFunc = randconfig.Load
	signalNotifyFunc   = signal.Notify
	logFatalfFunc      = log.Fatalf
)

type reportServer interface {
	Start() error
	Shutdown(context.Context) error
}

type metricsServer interface {
	Start() error
	Shutdown(context.Context) error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}

	fs := flag.NewFlagSet("bb-randtest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		serve       = fs.Bool("serve", false, "run the continuous monitor with report and metrics HTTP servers")
		bits        = fs.Int("bits", defaultOneShotBits, "number of bits to request from the device tool (one-shot mode)")
		filePath    = fs.String("file", "", "analyze a capture file instead of the device")
		fileHex     = fs.Bool("hex", false, "capture file is hex-encoded")
		toolPath    = fs.String("tool-path", "bb", "device tool binary path or name")
		toolTimeout = fs.Duration("tool-timeout", 5*time.Second, "upper bound on one device tool invocation")
	)

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stdout, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.Usage()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "parse flags: %v\n", err)
		return 2
	}

	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return 2
	}

	if *serve {
		return runServe(stderr)
	}

	return runOneShot(oneShotOptions{
		bits:        *bits,
		filePath:    *filePath,
		fileHex:     *fileHex,
		toolPath:    *toolPath,
		toolTimeout: *toolTimeout,
	}, stdout, stderr)
}

type oneShotOptions struct {
	bits        int
	filePath    string
	fileHex     bool
	toolPath    string
	toolTimeout time.Duration
}

// runOneShot acquires one sample, runs the battery, and prints the text
// report. The small-sample advisory goes to stderr so piped report output
// stays clean.
func runOneShot(opts oneShotOptions, stdout io.Writer, stderr io.Writer) int {
	ctx := context.Background()

	var (
		data []byte
		err  error
	)
	if opts.filePath != "" {
		data, err = acquire.NewFileSource(opts.filePath, opts.fileHex).ReadAll(ctx)
	} else {
		data, err = acquire.NewDeviceTool(opts.toolPath, opts.toolTimeout).ReadBits(ctx, opts.bits)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	if len(data) < report.RecommendedMinSampleBytes {
		_, _ = fmt.Fprintf(stderr, "warning: sample of %d bytes is below the recommended %d; p-values are unreliable\n",
			len(data), report.RecommendedMinSampleBytes)
	}

	r := stats.Analyze(data)

	if err := report.Render(stdout, r); err != nil {
		_, _ = fmt.Fprintf(stderr, "render report: %v\n", err)
		return 1
	}

	return 0
}

// runServe wires the configured source into the monitor and serves the
// report and metrics endpoints until SIGINT or SIGTERM.
func runServe(stderr io.Writer) int {
	config, err := loadConfigFunc()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	var metricsHTTPServer metricsServer
	if config.Metrics.Enabled {
		metricsHTTPServer = newMetricsServerFunc(config.Metrics.Bind)
		go func() {
			if err := metricsHTTPServer.Start(); err != nil {
				logFatalfFunc("metrics: failed to start server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsHTTPServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	source, closeSource, err := buildSourceFunc(config)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer closeSource()

	assessMonitor := monitor.New(source, config.Monitor.Interval, config.Monitor.SampleBytes)
	assessMonitor.Start()
	defer assessMonitor.Close()

	reportHTTPServer, err := newReportServerFunc(
		config.API.Bind,
		assessMonitor,
		config.API.AllowPublic,
		config.API.RetryAfterSec,
		config.API.RateLimitRPS,
		config.API.RateLimitBurst,
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "start report http server: %v\n", err)
		return 1
	}
	if err := reportHTTPServer.Start(); err != nil {
		_, _ = fmt.Fprintf(stderr, "start report http server: %v\n", err)
		return 1
	}

	log.Printf("bb-randtest: monitoring %s every %s (%d bytes per sample)",
		config.Monitor.Source, config.Monitor.Interval, config.Monitor.SampleBytes)

	waitForShutdownFunc(reportHTTPServer, metricsHTTPServer)

	return 0
}

// loadConfig loads the service configuration from environment variables and
// the optional .env file.
func loadConfig() (randconfig.Config, error) {
	config, err := randconfigLoadFunc()
	if err != nil {
		return config, fmt.Errorf("config: %w", err)
	}

	log.Printf("environment: %s", config.Environment)
	return config, nil
}

// buildSource constructs the entropy source named by the configuration. The
// returned func releases whatever the source holds open.
func buildSource(config randconfig.Config) (acquire.Source, func(), error) {
	switch config.Monitor.Source {
	case randconfig.SourceDevice:
		tool := acquire.NewDeviceTool(config.Device.ToolPath, config.Device.Timeout)
		return tool, func() {}, nil

	case randconfig.SourceFile:
		return acquire.NewFileSource(config.Monitor.FilePath, config.Monitor.FileHex), func() {}, nil

	case randconfig.SourceSerial:
		serialSource := acquire.NewSerialSource(config.Serial.Device, config.Serial.Baud, config.Serial.ReadTimeout)
		return serialSource, func() {
			if err := serialSource.Close(); err != nil {
				log.Printf("serial: close error: %v", err)
			}
		}, nil

	case randconfig.SourceMQTT:
		mqttSource, err := acquire.NewMQTTSource(randmqtt.Config{
			BrokerURL: config.MQTT.BrokerURL,
			ClientID:  config.MQTT.ClientID,
			Topics:    config.MQTT.Topics,
			QoS:       config.MQTT.QoS,
			Username:  config.MQTT.Username,
			Password:  config.MQTT.Password,
			TLSCAFile: config.MQTT.TLSCAFile,
		}, 0, config.MQTT.ReadTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt init: %w", err)
		}

		if err := connectMQTTWithRetry(mqttSource, config); err != nil {
			mqttSource.Close()
			return nil, nil, err
		}

		return mqttSource, mqttSource.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown source %q", config.Monitor.Source)
	}
}

// connectMQTTWithRetry repeatedly attempts the broker connection with
// exponential back-off and bounded jitter so multiple instances do not
// retry in lockstep during broker outages.
func connectMQTTWithRetry(source *acquire.MQTTSource, config randconfig.Config) error {
	const (
		initialDelay   = 1 * time.Second
		maxDelay       = 30 * time.Second
		maxAttempts    = 10
		jitterFraction = 0.2
	)

	delay := initialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; ; attempt++ {
		err := source.Connect()
		if err == nil {
			if attempt > 1 {
				log.Printf("mqtt: connected after %d attempt(s)", attempt)
			}
			log.Printf("mqtt: connected -> %s, subscribed -> %v (QoS=%d)",
				config.MQTT.BrokerURL, config.MQTT.Topics, config.MQTT.QoS)
			return nil
		}

		if attempt >= maxAttempts {
			return fmt.Errorf("mqtt connect: giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if jitterFraction > 0 {
			jitter := 1 + (rng.Float64()*2-1)*jitterFraction
			wait = time.Duration(float64(delay) * jitter)
			if wait < 0 {
				wait = 0
			}
		}

		log.Printf("mqtt: connect attempt %d failed: %v (retrying in %s)", attempt, err, wait)
		time.Sleep(wait)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received, then tears
// down the HTTP servers in order: report server first, metrics server last.
func waitForShutdown(reportHTTPServer reportServer, metricsHTTPServer metricsServer) {
	sig := make(chan os.Signal, 1)
	signalNotifyFunc(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down gracefully...")

	if reportHTTPServer != nil {
		shutdownContext, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := reportHTTPServer.Shutdown(shutdownContext); err != nil {
			log.Printf("report http server: shutdown error: %v", err)
		}
	}

	if metricsHTTPServer != nil {
		shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsHTTPServer.Shutdown(shutdownContext); err != nil {
			log.Printf("metrics http server: shutdown error: %v", err)
		}
	}

	log.Println("shutdown complete")
}
