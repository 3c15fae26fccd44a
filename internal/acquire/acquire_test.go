package acquire

import (
	"errors"
	"strings"
	"testing"
)

func TestBytesForBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		bits      int
		wantBytes int
		wantErr   bool
	}{
		{name: "one bit rounds up", bits: 1, wantBytes: 1},
		{name: "seven bits rounds up", bits: 7, wantBytes: 1},
		{name: "exact byte", bits: 8, wantBytes: 1},
		{name: "nine bits", bits: 9, wantBytes: 2},
		{name: "kilobit", bits: 1024, wantBytes: 128},
		{name: "zero rejected", bits: 0, wantErr: true},
		{name: "negative rejected", bits: -8, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := BytesForBits(tc.bits)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BytesForBits(%d) returned error: %v", tc.bits, err)
			}
			if got != tc.wantBytes {
				t.Fatalf("BytesForBits(%d) = %d, want %d", tc.bits, got, tc.wantBytes)
			}
		})
	}
}

func TestSourceErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("port unplugged")
	err := &SourceError{Source: "serial", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "serial") || !strings.Contains(err.Error(), "port unplugged") {
		t.Fatalf("unexpected error text: %q", err.Error())
	}

	var sourceErr *SourceError
	if !errors.As(err, &sourceErr) || sourceErr.Source != "serial" {
		t.Fatalf("expected errors.As to recover the SourceError, got %v", sourceErr)
	}
}
