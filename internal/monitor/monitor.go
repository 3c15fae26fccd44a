// Package monitor runs the continuous quality assessment loop. On a
// clock-driven interval it acquires a fresh sample from the configured
// entropy source, runs the statistical battery over it, retains the latest
// report for the API layer, and exports the results as metrics.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/acquire"
	"github.com/Thiagojm/bb-randtest/internal/clock"
	"github.com/Thiagojm/bb-randtest/internal/metrics"
	"github.com/Thiagojm/bb-randtest/internal/report"
	"github.com/Thiagojm/bb-randtest/internal/stats"
)

// Option applies an optional configuration to a Monitor during construction.
type Option func(*Monitor)

// WithClock injects a custom clock for deterministic interval timing in
// tests.
func WithClock(clockSource clock.Clock) Option {
	return func(m *Monitor) {
		m.clockSource = clockSource
	}
}

// Monitor periodically assesses an entropy source. A single loop goroutine
// performs acquisition and analysis so assessments never overlap. Latest
// is safe for concurrent use.
type Monitor struct {
	source      acquire.Source
	interval    time.Duration
	sampleBytes int
	clockSource clock.Clock

	mu       sync.RWMutex
	latest   stats.Report
	latestAt time.Time
	hasRun   bool

	ctx       context.Context
	cancel    context.CancelFunc
	loopGroup sync.WaitGroup
}

// New creates a Monitor over the given source. interval must be positive;
// sampleBytes is the number of bytes acquired per assessment. The loop does
// not start until Start is called.
func New(source acquire.Source, interval time.Duration, sampleBytes int, opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		source:      source,
		interval:    interval,
		sampleBytes: sampleBytes,
		clockSource: clock.RealClock{},
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.clockSource == nil {
		m.clockSource = clock.RealClock{}
	}

	return m
}

// Start launches the assessment loop. The first assessment runs immediately
// so the API has a report as soon as the source can deliver one.
func (m *Monitor) Start() {
	m.loopGroup.Add(1)
	go m.run()
}

// Latest returns the most recent report, its timestamp, and whether an
// assessment has completed successfully yet.
func (m *Monitor) Latest() (stats.Report, time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.latestAt, m.hasRun
}

// RunOnce performs a single acquisition and assessment, updating the
// retained report on success. It is called by the loop and may also be
// driven directly by tests.
func (m *Monitor) RunOnce(ctx context.Context) error {
	start := m.clockSource.Now()

	data, err := m.source.Read(ctx, m.sampleBytes)
	if err != nil {
		metrics.RecordAcquisitionFailure(m.source.Name(), failureReason(err))
		log.Printf("monitor: acquisition from %s failed: %v", m.source.Name(), err)
		return err
	}
	metrics.RecordAcquisitionDuration(m.clockSource.Now().Sub(start))

	r := stats.Analyze(data)

	m.mu.Lock()
	m.latest = r
	m.latestAt = m.clockSource.Now()
	m.hasRun = true
	m.mu.Unlock()

	metrics.RecordAnalysis(
		r.SampleBytes,
		r.EntropyBitsPerByte,
		r.Monobit.PValue,
		r.Runs.PValue,
		r.ChiSquare.ChiSquare,
		r.ChiSquare.PApprox,
		r.SerialCorrelation,
		report.SmallSample(r),
	)
	metrics.RecordMonitorRun(m.clockSource.Now())

	return nil
}

// run is the loop body: one assessment immediately, then one per interval
// until Close cancels the context.
func (m *Monitor) run() {
	defer m.loopGroup.Done()

	interval := m.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() != nil {
		return
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.clockSource.After(interval):
			if err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() != nil {
				return
			}
		}
	}
}

// Close stops the assessment loop and waits for an in-flight assessment to
// finish, up to five seconds.
func (m *Monitor) Close() {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.loopGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("monitor: stopped")
	case <-time.After(5 * time.Second):
		log.Println("monitor: timeout waiting for loop to stop")
	}
}

// failureReason maps an acquisition error onto a low-cardinality metrics
// label.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, acquire.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "source"
	}
}
