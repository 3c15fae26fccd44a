package acquire

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// FileSource reads a previously captured sample from a file, either raw
// bytes or a hex string (whitespace tolerated between groups).
type FileSource struct {
	Path string
	Hex  bool
}

// NewFileSource returns a FileSource for the given path; hexEncoded selects
// hex decoding of the file contents.
func NewFileSource(path string, hexEncoded bool) *FileSource {
	return &FileSource{Path: path, Hex: hexEncoded}
}

// Name identifies this source in errors and metrics.
func (f *FileSource) Name() string { return "file" }

// Read returns exactly numBytes bytes from the front of the file, failing
// if the capture is shorter than requested.
func (f *FileSource) Read(ctx context.Context, numBytes int) ([]byte, error) {
	if err := validateByteCount(numBytes); err != nil {
		return nil, err
	}

	data, err := f.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	if len(data) < numBytes {
		return nil, sourceErrorf("file", "%s holds %d bytes, requested %d", f.Path, len(data), numBytes)
	}

	return data[:numBytes], nil
}

// ReadAll returns the entire decoded capture. The whole file is loaded at
// once; captures are bounded and analyzed in memory.
func (f *FileSource) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SourceError{Source: "file", Err: err}
	}

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &SourceError{Source: "file", Err: err}
	}

	if !f.Hex {
		return raw, nil
	}

	hexStr := strings.Join(strings.Fields(string(raw)), "")
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, &SourceError{Source: "file", Err: fmt.Errorf("decode hex capture %s: %w", f.Path, err)}
	}

	return data, nil
}
