package acquire

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCapture(t *testing.T, name string, contents []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write capture file: %v", err)
	}
	return path
}

func TestFileSourceReadRaw(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "sample.bin", []byte{0x01, 0x02, 0x03, 0x04})
	src := NewFileSource(path, false)

	data, err := src.Read(context.Background(), 3)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("unexpected bytes: %x", data)
	}
}

func TestFileSourceReadHexWithWhitespace(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "sample.hex", []byte("de ad\nbe ef\n"))
	src := NewFileSource(path, true)

	data, err := src.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if !bytes.Equal(data, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("unexpected bytes: %x", data)
	}
}

func TestFileSourceReadShortCapture(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "short.bin", []byte{0x01, 0x02})
	src := NewFileSource(path, false)

	_, err := src.Read(context.Background(), 16)
	if err == nil || !strings.Contains(err.Error(), "requested 16") {
		t.Fatalf("expected short capture error, got %v", err)
	}

	var sourceErr *SourceError
	if !errors.As(err, &sourceErr) || sourceErr.Source != "file" {
		t.Fatalf("expected file SourceError, got %v", err)
	}
}

func TestFileSourceInvalidHex(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "bad.hex", []byte("not hex at all"))
	src := NewFileSource(path, true)

	_, err := src.ReadAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "decode hex capture") {
		t.Fatalf("expected hex decode error, got %v", err)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()

	src := NewFileSource(filepath.Join(t.TempDir(), "missing.bin"), false)

	_, err := src.Read(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestFileSourceRejectsNonPositiveCount(t *testing.T) {
	t.Parallel()

	src := NewFileSource("irrelevant", false)

	if _, err := src.Read(context.Background(), 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestFileSourceHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, "sample.bin", []byte{0x01})
	src := NewFileSource(path, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.ReadAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
