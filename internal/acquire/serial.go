package acquire

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialSource reads raw entropy bytes from a TrueRNG-style serial device.
// The port is opened on first use and kept open across reads; Close
// releases it. Reads are serialized, matching the single-consumer nature
// of a physical device.
type SerialSource struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration

	mu   sync.Mutex
	port io.ReadCloser

	// openPort is a test seam; nil means a real serial open.
	openPort func(cfg *serial.Config) (io.ReadCloser, error)
}

// NewSerialSource returns a SerialSource for the named device. Baud
// defaults to 115200 and the read timeout to one second when non-positive.
func NewSerialSource(device string, baud int, readTimeout time.Duration) *SerialSource {
	if baud <= 0 {
		baud = 115200
	}
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	return &SerialSource{Device: device, Baud: baud, ReadTimeout: readTimeout}
}

// Name identifies this source in errors and metrics.
func (s *SerialSource) Name() string { return "serial" }

// Read fills exactly numBytes bytes from the device. The serial library
// enforces the configured read timeout per read; a short or failed read is
// reported as a SourceError.
func (s *SerialSource) Read(ctx context.Context, numBytes int) ([]byte, error) {
	if err := validateByteCount(numBytes); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &SourceError{Source: "serial", Err: err}
	}

	if s.port == nil {
		port, err := s.open()
		if err != nil {
			return nil, &SourceError{Source: "serial", Err: err}
		}
		s.port = port
		log.Printf("acquire: serial device %s open (baud=%d)", s.Device, s.Baud)
	}

	buf := make([]byte, numBytes)
	if _, err := io.ReadFull(s.port, buf); err != nil {
		return nil, sourceErrorf("serial", "read %s: %w", s.Device, err)
	}

	return buf, nil
}

// Close releases the serial port. Subsequent reads reopen it.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	return err
}

func (s *SerialSource) open() (io.ReadCloser, error) {
	cfg := &serial.Config{
		Name:        s.Device,
		Baud:        s.Baud,
		Size:        8,
		ReadTimeout: s.ReadTimeout,
	}

	if s.openPort != nil {
		return s.openPort(cfg)
	}
	return serial.OpenPort(cfg)
}
