package testutil

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

var registryMu sync.Mutex

// ResetRegistryForTest provides an isolated Prometheus registry for the
// lifetime of the test. The metrics package is pointed at the per-test
// registry and restored when the test completes. A package-level lock is
// held for the whole test, so tests using this helper run serially.
func ResetRegistryForTest(t *testing.T) *prometheus.Registry {
	t.Helper()

	registryMu.Lock()

	reg := prometheus.NewRegistry()
	previous := metrics.SetRegisterer(reg)

	t.Cleanup(func() {
		metrics.SetRegisterer(previous)
		registryMu.Unlock()
	})

	return reg
}

// WaitForError drains the next value from an error channel, failing the
// test if nothing arrives before the context deadline.
func WaitForError(t *testing.T, ch <-chan error, desc string) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := WaitForCondition(ctx, func() (error, bool) {
		select {
		case err := <-ch:
			return err, true
		default:
			return nil, false
		}
	})
	if err != nil {
		t.Fatalf("timeout waiting for %s: %v", desc, err)
	}
	return result
}

// WaitForCondition polls probe until it reports success or the context is
// cancelled.
func WaitForCondition[T any](ctx context.Context, probe func() (T, bool)) (T, error) {
	var zero T
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		if val, ok := probe(); ok {
			return val, nil
		}

		runtime.Gosched()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}
