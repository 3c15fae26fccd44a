package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/acquire"
	"github.com/Thiagojm/bb-randtest/internal/clock"
	"github.com/Thiagojm/bb-randtest/testutil"
)

// fakeSource returns canned buffers (or errors) in sequence and counts
// reads.
type fakeSource struct {
	mu      sync.Mutex
	buffers [][]byte
	err     error
	reads   int
}

func (s *fakeSource) Read(_ context.Context, numBytes int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.err != nil {
		return nil, s.err
	}

	idx := s.reads - 1
	if idx >= len(s.buffers) {
		idx = len(s.buffers) - 1
	}
	data := s.buffers[idx]
	if len(data) > numBytes {
		data = data[:numBytes]
	}
	return data, nil
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func waitForReads(t *testing.T, src *fakeSource, want int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := testutil.WaitForCondition(ctx, func() (int, bool) {
		n := src.readCount()
		return n, n >= want
	}); err != nil {
		t.Fatalf("timeout waiting for %d reads (got %d)", want, src.readCount())
	}
}

func TestRunOnceRetainsReport(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	sample := make([]byte, 256)
	for i := range sample {
		sample[i] = byte(i)
	}
	src := &fakeSource{buffers: [][]byte{sample}}

	m := New(src, time.Minute, len(sample), WithClock(clock.NewFakeClock()))

	if _, _, ok := m.Latest(); ok {
		t.Fatal("expected no report before first assessment")
	}

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	r, at, ok := m.Latest()
	if !ok {
		t.Fatal("expected a retained report")
	}
	if r.SampleBytes != 256 {
		t.Fatalf("expected report over 256 bytes, got %d", r.SampleBytes)
	}
	if r.EntropyBitsPerByte != 8 {
		t.Fatalf("expected 8 bits/byte for the 0..255 sample, got %v", r.EntropyBitsPerByte)
	}
	if at.IsZero() {
		t.Fatal("expected a report timestamp")
	}
}

func TestRunOnceAcquisitionFailureLeavesReportUntouched(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	src := &fakeSource{buffers: [][]byte{{0xaa, 0x55}}}
	m := New(src, time.Minute, 2, WithClock(clock.NewFakeClock()))

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce failed: %v", err)
	}
	first, firstAt, _ := m.Latest()

	src.mu.Lock()
	src.err = &acquire.SourceError{Source: "fake", Err: errors.New("device unplugged")}
	src.mu.Unlock()

	if err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected RunOnce to propagate the acquisition failure")
	}

	r, at, ok := m.Latest()
	if !ok || r != first || !at.Equal(firstAt) {
		t.Fatal("expected failed assessment to leave the previous report in place")
	}
}

func TestMonitorLoopRunsImmediatelyAndOnInterval(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	fakeClock := clock.NewFakeClock()
	src := &fakeSource{buffers: [][]byte{{0x00, 0xff, 0x00, 0xff}}}

	m := New(src, 30*time.Second, 4, WithClock(fakeClock))
	m.Start()
	defer m.Close()

	// First assessment happens without any clock tick.
	waitForReads(t, src, 1)

	fakeClock.Fire()
	waitForReads(t, src, 2)

	fakeClock.Fire()
	waitForReads(t, src, 3)

	r, _, ok := m.Latest()
	if !ok {
		t.Fatal("expected a retained report")
	}
	if r.SerialCorrelation != -1 {
		t.Fatalf("expected rho=-1 for the 0x00/0xFF alternation, got %v", r.SerialCorrelation)
	}
}

func TestMonitorCloseStopsLoop(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	fakeClock := clock.NewFakeClock()
	src := &fakeSource{buffers: [][]byte{{0x42}}}

	m := New(src, time.Second, 1, WithClock(fakeClock))
	m.Start()

	waitForReads(t, src, 1)
	m.Close()

	reads := src.readCount()
	fakeClock.Fire()

	// Give a stray loop iteration a chance to run; none should.
	time.Sleep(20 * time.Millisecond)
	if got := src.readCount(); got != reads {
		t.Fatalf("expected no assessments after Close, reads went %d -> %d", reads, got)
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "none"},
		{name: "invalid request", err: acquire.ErrInvalidRequest, want: "invalid_request"},
		{name: "cancelled", err: context.Canceled, want: "cancelled"},
		{name: "deadline", err: context.DeadlineExceeded, want: "cancelled"},
		{name: "wrapped source error", err: &acquire.SourceError{Source: "device", Err: errors.New("boom")}, want: "source"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := failureReason(tc.err); got != tc.want {
				t.Fatalf("failureReason(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
