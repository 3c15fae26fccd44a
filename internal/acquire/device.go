package acquire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultToolPath    = "bb"
	defaultToolTimeout = 5 * time.Second
	hexLinePrefix      = "HEX:"
)

// DeviceTool acquires entropy by invoking the external device CLI with a
// requested bit count and parsing the hex dump it prints. The tool masks
// excess bits in the final byte, so a request for n bits yields
// ceil(n/8) bytes.
type DeviceTool struct {
	// Path is the tool binary path or name resolved via PATH.
	Path string
	// Timeout bounds one tool invocation. Non-positive means the default
	// of five seconds.
	Timeout time.Duration

	// runCommand is a test seam; nil means real subprocess execution.
	runCommand func(ctx context.Context, path string, args ...string) ([]byte, error)
}

// NewDeviceTool returns a DeviceTool for the given binary path and timeout,
// falling back to defaults for empty or non-positive values.
func NewDeviceTool(path string, timeout time.Duration) *DeviceTool {
	if path == "" {
		path = defaultToolPath
	}
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &DeviceTool{Path: path, Timeout: timeout}
}

// Name identifies this source in errors and metrics.
func (d *DeviceTool) Name() string { return "device" }

// Read acquires numBytes bytes by requesting numBytes*8 bits from the tool.
func (d *DeviceTool) Read(ctx context.Context, numBytes int) ([]byte, error) {
	if err := validateByteCount(numBytes); err != nil {
		return nil, err
	}
	return d.ReadBits(ctx, numBytes*8)
}

// ReadBits invokes the tool with "--bits <n>" and returns the parsed bytes,
// left-padded or truncated to exactly ceil(bits/8). The invocation is
// bounded by the configured timeout on top of any deadline already in ctx.
func (d *DeviceTool) ReadBits(ctx context.Context, bits int) ([]byte, error) {
	expectedLen, err := BytesForBits(bits)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, err := d.run(runCtx, d.Path, "--bits", strconv.Itoa(bits))
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, sourceErrorf("device", "%s timed out after %s", d.Path, timeout)
		}
		return nil, &SourceError{Source: "device", Err: err}
	}

	data, err := parseHexOutput(stdout)
	if err != nil {
		return nil, &SourceError{Source: "device", Err: err}
	}

	return fitToLength(data, expectedLen), nil
}

func (d *DeviceTool) run(ctx context.Context, path string, args ...string) ([]byte, error) {
	if d.runCommand != nil {
		return d.runCommand(ctx, path, args...)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			return nil, fmt.Errorf("%s failed: rc=%d, stderr=%s", path, exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return stdout.Bytes(), nil
}

// parseHexOutput scans the tool's stdout for the "HEX:" line and decodes
// its payload, tolerating spaces between hex groups.
func parseHexOutput(stdout []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, hexLinePrefix) {
			continue
		}

		hexStr := strings.ReplaceAll(strings.TrimSpace(line[len(hexLinePrefix):]), " ", "")
		if hexStr == "" {
			return nil, fmt.Errorf("empty %q line in tool output", hexLinePrefix)
		}
		data, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("invalid hex output %q: %w", hexStr, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no %q line in tool output", hexLinePrefix)
}

// fitToLength left-pads short data with zero bytes or truncates long data
// so the result is exactly want bytes. The tool occasionally trims leading
// zero bytes from its hex dump.
func fitToLength(data []byte, want int) []byte {
	if len(data) == want {
		return data
	}
	if len(data) < want {
		padded := make([]byte, want)
		copy(padded[want-len(data):], data)
		log.Printf("acquire: device output short by %d byte(s), left-padding", want-len(data))
		return padded
	}
	return data[:want]
}
