// Package api exposes the latest assessment report over a local HTTP
// interface for consumption by external processes and dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/clock"
	"github.com/Thiagojm/bb-randtest/internal/metrics"
	"github.com/Thiagojm/bb-randtest/internal/report"
	"github.com/Thiagojm/bb-randtest/internal/stats"
)

const (
	defaultHTTPAddress       = "127.0.0.1:8081"
	defaultShutdownTimeout   = 5 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultReadWriteTimeout  = 5 * time.Second
	defaultRateLimitRPS      = 25
	defaultRateLimitBurst    = 25
	defaultRetryAfterSeconds = 1
	baseUrlV1                = "/api/v1"
)

// ReportProvider yields the most recent assessment report. The monitor
// implements it.
type ReportProvider interface {
	Latest() (stats.Report, time.Time, bool)
}

// HTTPServer serves the latest assessment report as JSON over a local HTTP
// interface.
type HTTPServer struct {
	provider          ReportProvider
	server            *http.Server
	listener          net.Listener
	shutdownTimeout   time.Duration
	clock             clock.Clock
	rateLimiter       *tokenBucket
	retryAfterSeconds int
}

// reportEnvelope is the JSON body of /api/v1/report.
type reportEnvelope struct {
	Report      stats.Report `json:"report"`
	GeneratedAt time.Time    `json:"generated_at"`
	SmallSample bool         `json:"small_sample"`
}

// NewHTTPServer constructs an HTTPServer bound to addr, which defaults to
// 127.0.0.1:8081. Unless allowPublic is true, the address is restricted to
// loopback interfaces for security. The server exposes three endpoints:
//   - GET /api/v1/report -- the latest assessment report as JSON, or 503
//     with Retry-After when no assessment has completed yet.
//   - GET /api/v1/health -- reports assessment age and sample size as
//     plain text.
//   - GET /api/v1/ready -- returns 200 once a report exists whose sample
//     met the advisory minimum, or 503 otherwise.
//
// Token-bucket rate limiting is applied to the report endpoint.
// rateLimitRPS sets the sustained request rate and rateLimitBurst sets the
// burst allowance; both default to 25 when non-positive.
func NewHTTPServer(addr string, provider ReportProvider, allowPublic bool, retryAfterSeconds int, rateLimitRPS int, rateLimitBurst int) (*HTTPServer, error) {
	if addr == "" {
		addr = defaultHTTPAddress
	}

	if retryAfterSeconds <= 0 {
		retryAfterSeconds = defaultRetryAfterSeconds
	}

	if rateLimitRPS <= 0 {
		rateLimitRPS = defaultRateLimitRPS
	}

	if rateLimitBurst <= 0 {
		rateLimitBurst = defaultRateLimitBurst
	}

	canonicalAddr, err := enforceLoopbackAddr(addr, allowPublic)
	if err != nil {
		return nil, err
	}

	clk := clock.RealClock{}

	httpServer := &HTTPServer{
		provider:          provider,
		shutdownTimeout:   defaultShutdownTimeout,
		clock:             clk,
		retryAfterSeconds: retryAfterSeconds,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(baseUrlV1+"/report", httpServer.handleReport)
	mux.HandleFunc(baseUrlV1+"/health", httpServer.handleHealth)
	mux.HandleFunc(baseUrlV1+"/ready", httpServer.handleReady)

	httpServer.server = &http.Server{
		Addr:         canonicalAddr,
		Handler:      mux,
		ReadTimeout:  defaultReadWriteTimeout,
		WriteTimeout: defaultReadWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	httpServer.rateLimiter = newTokenBucket(float64(rateLimitRPS), float64(rateLimitBurst), clk)
	log.Printf("report http server: rate limiter configured (rps=%d, burst=%d)", rateLimitRPS, rateLimitBurst)

	return httpServer, nil
}

// Start begins listening for HTTP requests. It returns an error if the
// socket cannot be bound.
func (s *HTTPServer) Start() error {
	if s.provider == nil {
		return errors.New("report http server: provider is nil")
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("report http server: listen: %w", err)
	}

	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("report http server: serve error: %v", err)
		}
	}()

	log.Printf("report http server: listening on %s", listener.Addr())
	return nil
}

// enforceLoopbackAddr validates that addr resolves to a loopback interface.
// When allowPublic is true, non-loopback addresses are permitted with a
// warning log. Returns the canonical host:port string or an error.
func enforceLoopbackAddr(addr string, allowPublic bool) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = defaultHTTPAddress
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("report http server: invalid address %q: %w", addr, err)
	}

	if host == "" {
		return "", errors.New("report http server: host must be specified")
	}

	hostLower := strings.ToLower(host)
	if hostLower == "localhost" {
		return net.JoinHostPort("localhost", port), nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if allowPublic {
			log.Printf("report http server: ALLOW_PUBLIC_HTTP=true, binding to %s", addr)
			return addr, nil
		}
		return "", fmt.Errorf("report http server: host %q is not loopback", host)
	}

	if !ip.IsLoopback() {
		if allowPublic {
			log.Printf("report http server: ALLOW_PUBLIC_HTTP=true, binding to %s", addr)
			return net.JoinHostPort(ip.String(), port), nil
		}
		return "", fmt.Errorf("report http server: host %q must be loopback", host)
	}

	return net.JoinHostPort(ip.String(), port), nil
}

// Shutdown gracefully stops the HTTP server, waiting up to shutdownTimeout
// for in-flight requests to complete.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
	}

	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HTTPServer) handleReport(response http.ResponseWriter, request *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordReportHTTPRequest(status, time.Since(start))
	}()

	if request.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		setNoStoreHeaders(response)
		http.Error(response, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.rateLimiter != nil {
		allowed, wait := s.rateLimiter.Allow()
		if !allowed {
			status = http.StatusServiceUnavailable
			metrics.RecordReportHTTPRateLimited()
			setNoStoreHeaders(response)
			s.setRetryAfter(response, wait)
			http.Error(response, "rate limit exceeded", http.StatusServiceUnavailable)
			return
		}
	}

	latest, at, ok := s.provider.Latest()
	if !ok {
		status = http.StatusServiceUnavailable
		setNoStoreHeaders(response)
		s.setRetryAfter(response, 0)
		http.Error(response, "no assessment completed yet", http.StatusServiceUnavailable)
		return
	}

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "application/json")

	envelope := reportEnvelope{
		Report:      latest,
		GeneratedAt: at,
		SmallSample: report.SmallSample(latest),
	}
	if err := json.NewEncoder(response).Encode(envelope); err != nil {
		log.Printf("report http server: write failed: %v", err)
	}
}

func (s *HTTPServer) handleHealth(response http.ResponseWriter, _ *http.Request) {
	sampleBytes := 0
	age := time.Duration(0)
	hasReport := false
	if s.provider != nil {
		if latest, at, ok := s.provider.Latest(); ok {
			sampleBytes = latest.SampleBytes
			age = s.clock.Now().Sub(at)
			hasReport = true
		}
	}

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(response, "has_report=%t\nsample_bytes=%d\nreport_age_sec=%.0f\n", hasReport, sampleBytes, age.Seconds())
}

func (s *HTTPServer) handleReady(response http.ResponseWriter, _ *http.Request) {
	var latest stats.Report
	hasReport := false
	if s.provider != nil {
		latest, _, hasReport = s.provider.Latest()
	}

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.Header().Set("X-Sample-Minimum", strconv.Itoa(report.RecommendedMinSampleBytes))

	if !hasReport || report.SmallSample(latest) {
		response.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(response, "ready=false\n")
		return
	}

	response.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(response, "ready=true\n")
}

// setNoStoreHeaders sets Cache-Control and Pragma headers to prevent
// caching of report responses.
func setNoStoreHeaders(response http.ResponseWriter) {
	response.Header().Set("Cache-Control", "no-store")
	response.Header().Set("Pragma", "no-cache")
}

// tokenBucket implements a simple token-bucket rate limiter. Tokens are
// refilled at a constant rate up to a maximum capacity. It is safe for
// concurrent use.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	clock      clock.Clock
}

// newTokenBucket creates a token bucket that refills at rate tokens per
// second with a maximum burst capacity. The bucket starts full.
func newTokenBucket(rate float64, burst float64, clk clock.Clock) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}

	if burst <= 0 {
		burst = rate
	}

	if clk == nil {
		clk = clock.RealClock{}
	}

	return &tokenBucket{
		capacity:   burst,
		tokens:     burst,
		refillRate: rate,
		lastRefill: clk.Now(),
		clock:      clk,
	}
}

func (b *tokenBucket) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		refill := elapsed.Seconds() * b.refillRate

		if refill > 0 {
			b.tokens = math.Min(b.capacity, b.tokens+refill)
		}

		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0

		return true, 0
	}

	deficit := 1.0 - b.tokens
	if deficit < 0 {
		deficit = 0
	}

	waitSeconds := deficit / b.refillRate
	if waitSeconds < 0 {
		waitSeconds = 0
	}

	waitDuration := time.Duration(waitSeconds * float64(time.Second))
	if waitDuration < time.Second {
		waitDuration = time.Second
	}

	return false, waitDuration
}

func (s *HTTPServer) setRetryAfter(response http.ResponseWriter, wait time.Duration) {
	seconds := s.retryAfterSeconds
	if wait > 0 {
		calc := int(math.Ceil(wait.Seconds()))
		if calc > seconds {
			seconds = calc
		}
	}
	if seconds < 1 {
		seconds = defaultRetryAfterSeconds
	}
	response.Header().Set("Retry-After", strconv.Itoa(seconds))
}
