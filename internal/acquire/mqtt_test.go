package acquire

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/mqtt"
	"github.com/Thiagojm/bb-randtest/testutil"
)

func newTestMQTTSource(t *testing.T, timeout time.Duration) *MQTTSource {
	t.Helper()

	src, err := NewMQTTSource(mqtt.Config{
		BrokerURL: "tcp://localhost:1883",
		Topics:    []string{"entropy/samples/#"},
	}, 1024, timeout)
	if err != nil {
		t.Fatalf("NewMQTTSource failed: %v", err)
	}
	return src
}

func TestNewMQTTSourceValidatesClientConfig(t *testing.T) {
	t.Parallel()

	_, err := NewMQTTSource(mqtt.Config{}, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "BrokerURL") {
		t.Fatalf("expected client config error, got %v", err)
	}

	var sourceErr *SourceError
	if !errors.As(err, &sourceErr) || sourceErr.Source != "mqtt" {
		t.Fatalf("expected mqtt SourceError, got %v", err)
	}
}

func TestMQTTSourceReadReturnsBufferedBytes(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	src := newTestMQTTSource(t, time.Second)
	src.buffer.OnMessage("entropy/samples/0", []byte{0xaa, 0xbb, 0xcc, 0xdd})

	data, err := src.Read(context.Background(), 4)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(data, []byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Fatalf("unexpected bytes: %x", data)
	}
}

func TestMQTTSourceReadTimesOutWithoutData(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	src := newTestMQTTSource(t, 20*time.Millisecond)
	src.buffer.OnMessage("entropy/samples/0", []byte{0x01})

	_, err := src.Read(context.Background(), 8)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !strings.Contains(err.Error(), "1 buffered") {
		t.Fatalf("expected buffered count in error, got %v", err)
	}
}

func TestMQTTSourceReadHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	src := newTestMQTTSource(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Read(ctx, 8)
	if err == nil || strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected cancellation, not timeout, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestMQTTSourceReadRejectsNonPositiveCount(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	src := newTestMQTTSource(t, time.Second)

	if _, err := src.Read(context.Background(), 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestMQTTSourceName(t *testing.T) {
	t.Parallel()

	testutil.ResetRegistryForTest(t)

	if got := newTestMQTTSource(t, time.Second).Name(); got != "mqtt" {
		t.Fatalf("expected name 'mqtt', got %q", got)
	}
}
