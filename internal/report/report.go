// Package report renders analysis reports as human-readable text. The
// layout mirrors the output historically printed by the device tooling so
// existing log scrapers keep working.
package report

import (
	"fmt"
	"io"

	"github.com/Thiagojm/bb-randtest/internal/stats"
)

// RecommendedMinSampleBytes is the sample size below which results are
// considered unreliable and an advisory should be surfaced. The core tests
// still compute; the judgment call belongs here, outside them.
const RecommendedMinSampleBytes = 1024

// SmallSample reports whether the analyzed sample was below the
// recommended minimum.
func SmallSample(r stats.Report) bool {
	return r.SampleBytes < RecommendedMinSampleBytes
}

// Render writes the text form of the report to w. It returns the first
// write error encountered.
func Render(w io.Writer, r stats.Report) error {
	_, err := fmt.Fprintf(w,
		"Sample size: %d bytes\n"+
			"Shannon entropy: %.5f / 8.00000 bits/byte\n"+
			"Serial correlation: %.6f\n"+
			"\n"+
			"Monobit frequency:\n"+
			"  ones: %d zeros: %d\n"+
			"  z: %.4f p-value: %.6f\n"+
			"\n"+
			"Runs test:\n"+
			"  runs: %d expected: %.2f\n"+
			"  z: %.4f p-value: %.6f\n"+
			"\n"+
			"Byte chi-square:\n"+
			"  chi^2: %.2f df=255 p~: %.6f\n",
		r.SampleBytes,
		r.EntropyBitsPerByte,
		r.SerialCorrelation,
		r.Monobit.Ones, r.Monobit.Zeros,
		r.Monobit.Z, r.Monobit.PValue,
		r.Runs.Runs, r.Runs.ExpectedRuns,
		r.Runs.Z, r.Runs.PValue,
		r.ChiSquare.ChiSquare, r.ChiSquare.PApprox,
	)
	return err
}
