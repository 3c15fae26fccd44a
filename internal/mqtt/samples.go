package mqtt

import (
	"context"
	"strings"
	"sync"

	"github.com/Thiagojm/bb-randtest/internal/metrics"
)

// DefaultBufferCapacity bounds the number of raw sample bytes retained by a
// SampleBuffer. Once full, new payloads are dropped until the buffer is
// drained by Take or WaitFor.
const DefaultBufferCapacity = 1 << 20

// SampleBuffer accumulates raw entropy bytes from incoming MQTT payloads.
// It implements Handler. Payloads on topics ending in "/meta" carry device
// metadata rather than sample data and are ignored.
type SampleBuffer struct {
	mu       sync.Mutex
	data     []byte
	capacity int
	dropped  int64
	notify   chan struct{}
}

// NewSampleBuffer constructs a buffer with the given byte capacity. A
// capacity of zero or less selects DefaultBufferCapacity.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &SampleBuffer{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// OnMessage appends the payload's bytes to the buffer. Metadata topics are
// skipped and payloads that would overflow the capacity are dropped whole.
func (b *SampleBuffer) OnMessage(topic string, payload []byte) {
	if strings.HasSuffix(topic, "/meta") || len(payload) == 0 {
		return
	}

	metrics.RecordMQTTMessage()

	b.mu.Lock()
	if len(b.data)+len(payload) > b.capacity {
		b.dropped += int64(len(payload))
		b.mu.Unlock()
		metrics.RecordMQTTDroppedBytes(len(payload))
		return
	}
	b.data = append(b.data, payload...)
	b.mu.Unlock()

	metrics.RecordMQTTSampleBytes(len(payload))

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Buffered returns the number of sample bytes currently held.
func (b *SampleBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Dropped returns the total number of payload bytes discarded due to a
// full buffer.
func (b *SampleBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Take removes and returns up to numBytes buffered bytes without blocking.
// It may return fewer bytes than requested, including none.
func (b *SampleBuffer) Take(numBytes int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if numBytes > len(b.data) {
		numBytes = len(b.data)
	}
	if numBytes <= 0 {
		return nil
	}

	taken := make([]byte, numBytes)
	copy(taken, b.data[:numBytes])
	b.data = b.data[numBytes:]
	return taken
}

// WaitFor blocks until numBytes sample bytes are available, then removes
// and returns exactly that many. It returns early with the context error
// if ctx is cancelled first.
func (b *SampleBuffer) WaitFor(ctx context.Context, numBytes int) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.data) >= numBytes {
			taken := make([]byte, numBytes)
			copy(taken, b.data[:numBytes])
			b.data = b.data[numBytes:]
			b.mu.Unlock()
			return taken, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}
