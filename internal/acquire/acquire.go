// Package acquire obtains raw byte samples from hardware entropy sources.
// Four sources are supported: the external device CLI tool, a capture file
// (raw or hex), a serial-port RNG, and an MQTT sample feed. Every
// environmental failure is translated into a *SourceError before it reaches
// callers, so the analysis layer never needs to distinguish causes.
package acquire

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRequest marks a request rejected before any I/O took place,
// such as a non-positive bit or byte count.
var ErrInvalidRequest = errors.New("acquire: invalid request")

// SourceError is the single failure kind emitted by all sources. Source
// names the origin ("device", "file", "serial", "mqtt") and Err carries the
// underlying cause.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("acquire (%s): %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// sourceErrorf wraps a formatted cause in a SourceError.
func sourceErrorf(source, format string, args ...any) error {
	return &SourceError{Source: source, Err: fmt.Errorf(format, args...)}
}

// Source yields byte samples for analysis. Read returns exactly numBytes
// bytes or an error: short results are a failure, never silently truncated
// output. Implementations honour ctx for cancellation where their
// underlying transport allows it.
type Source interface {
	Read(ctx context.Context, numBytes int) ([]byte, error)
	Name() string
}

// BytesForBits validates a requested bit count and converts it to the
// number of bytes the device tool emits, rounding up to whole bytes.
// Non-positive counts are rejected with ErrInvalidRequest.
func BytesForBits(bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("%w: bit count must be positive, got %d", ErrInvalidRequest, bits)
	}
	return (bits + 7) / 8, nil
}

// validateByteCount rejects non-positive byte requests before any I/O.
func validateByteCount(numBytes int) error {
	if numBytes <= 0 {
		return fmt.Errorf("%w: byte count must be positive, got %d", ErrInvalidRequest, numBytes)
	}
	return nil
}
