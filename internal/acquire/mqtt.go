package acquire

import (
	"context"
	"time"

	"github.com/Thiagojm/bb-randtest/internal/mqtt"
)

// MQTTSource reads sample bytes from a broker feed. A receive-only MQTT
// client streams payloads into a SampleBuffer and Read blocks until the
// requested number of bytes has accumulated.
type MQTTSource struct {
	client  *mqtt.Client
	buffer  *mqtt.SampleBuffer
	timeout time.Duration
}

// NewMQTTSource constructs the client and buffer but does not connect.
// readTimeout bounds how long a single Read waits for bytes to arrive; zero
// selects one minute.
func NewMQTTSource(config mqtt.Config, bufferCapacity int, readTimeout time.Duration) (*MQTTSource, error) {
	if readTimeout <= 0 {
		readTimeout = time.Minute
	}

	buffer := mqtt.NewSampleBuffer(bufferCapacity)
	client, err := mqtt.NewClient(config, buffer)
	if err != nil {
		return nil, sourceErrorf("mqtt", "create client: %w", err)
	}

	return &MQTTSource{
		client:  client,
		buffer:  buffer,
		timeout: readTimeout,
	}, nil
}

// Connect opens the broker connection and completes the initial topic
// subscription.
func (s *MQTTSource) Connect() error {
	if err := s.client.Connect(); err != nil {
		return sourceErrorf("mqtt", "connect: %w", err)
	}
	return nil
}

// Close disconnects from the broker. Buffered bytes remain readable.
func (s *MQTTSource) Close() {
	s.client.Close()
}

// Read blocks until numBytes sample bytes have arrived from the broker,
// the context is cancelled, or the read timeout elapses.
func (s *MQTTSource) Read(ctx context.Context, numBytes int) ([]byte, error) {
	if err := validateByteCount(numBytes); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.buffer.WaitFor(waitCtx, numBytes)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, sourceErrorf("mqtt", "timed out after %s waiting for %d bytes (%d buffered)",
				s.timeout, numBytes, s.buffer.Buffered())
		}
		return nil, sourceErrorf("mqtt", "wait for sample bytes: %w", err)
	}
	return data, nil
}

// Name identifies the source in errors and metrics.
func (s *MQTTSource) Name() string { return "mqtt" }
