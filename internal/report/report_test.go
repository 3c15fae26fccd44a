package report

import (
	"strings"
	"testing"

	"github.com/Thiagojm/bb-randtest/internal/stats"
)

func TestRenderContainsAllSections(t *testing.T) {
	t.Parallel()

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	var sb strings.Builder
	if err := Render(&sb, stats.Analyze(data)); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	out := sb.String()
	for _, want := range []string{
		"Sample size: 256 bytes",
		"Shannon entropy: 8.00000 / 8.00000 bits/byte",
		"Serial correlation:",
		"Monobit frequency:",
		"Runs test:",
		"Byte chi-square:",
		"chi^2: 0.00 df=255",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEmptyReport(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	if err := Render(&sb, stats.Analyze(nil)); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(sb.String(), "Sample size: 0 bytes") {
		t.Fatalf("expected zero sample size in output:\n%s", sb.String())
	}
}

func TestSmallSample(t *testing.T) {
	t.Parallel()

	if !SmallSample(stats.Report{SampleBytes: RecommendedMinSampleBytes - 1}) {
		t.Fatal("expected advisory below the recommended minimum")
	}
	if SmallSample(stats.Report{SampleBytes: RecommendedMinSampleBytes}) {
		t.Fatal("expected no advisory at the recommended minimum")
	}
}
