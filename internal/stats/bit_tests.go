// Package stats implements the statistical quality battery applied to raw
// bytes read from a hardware entropy source. It provides a monobit frequency
// test and a Wald-Wolfowitz runs test over the bit stream, a chi-square
// uniformity test over the byte distribution, a Shannon entropy estimate,
// and a circular lag-1 serial correlation coefficient. Every test is a pure
// function of its input buffer: identical input yields identical output, and
// the buffer is never mutated. Empty and constant inputs produce the defined
// degenerate results rather than errors.
//
// These are coarse sanity checks for gross source defects (stuck bits, bias,
// correlation), not a substitute for full suites such as NIST STS or
// Dieharder.
package stats

import (
	"encoding/json"
	"math"
	"math/bits"

	"github.com/Thiagojm/bb-randtest/internal/bitstream"
)

// MonobitResult holds the outcome of the monobit frequency test.
// Ones+Zeros always equals the total bit count of the input.
type MonobitResult struct {
	Ones   int     `json:"ones"`
	Zeros  int     `json:"zeros"`
	Z      float64 `json:"z"`
	PValue float64 `json:"p_value"`
}

// RunsResult holds the outcome of the Wald-Wolfowitz runs test.
type RunsResult struct {
	Runs         int     `json:"runs"`
	ExpectedRuns float64 `json:"expected_runs"`
	Z            float64 `json:"z"`
	PValue       float64 `json:"p_value"`
}

// MarshalJSON renders a non-finite z statistic as null. Constant input
// drives z to +Inf, which JSON cannot represent.
func (r RunsResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Runs         int      `json:"runs"`
		ExpectedRuns float64  `json:"expected_runs"`
		Z            *float64 `json:"z"`
		PValue       float64  `json:"p_value"`
	}{
		Runs:         r.Runs,
		ExpectedRuns: r.ExpectedRuns,
		PValue:       r.PValue,
	}
	if !math.IsInf(r.Z, 0) && !math.IsNaN(r.Z) {
		out.Z = &r.Z
	}
	return json.Marshal(out)
}

// Monobit compares the count of set bits against the count of clear bits
// under the null hypothesis of an unbiased source. The p-value is the
// two-sided tail probability erfc(|ones-zeros|/sqrt(2n)); values near zero
// indicate bias. Empty input yields the all-zero degenerate result.
func Monobit(data []byte) MonobitResult {
	n := len(data) * 8
	if n == 0 {
		return MonobitResult{}
	}

	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}
	zeros := n - ones

	s := float64(ones - zeros)
	if s < 0 {
		s = -s
	}

	z := s / math.Sqrt(float64(n))
	p := clampProbability(math.Erfc(z / math.Sqrt2))

	return MonobitResult{
		Ones:   ones,
		Zeros:  zeros,
		Z:      z,
		PValue: p,
	}
}

// Runs counts maximal sequences of identical bit values and compares the
// count against its expectation under independence. A constant bit stream
// cannot be random: it reports a single run with z=+Inf and p=0. The same
// conservative failure is reported when the variance estimate degenerates
// to a non-positive value. Input shorter than two bits yields runs=0, p=0.
func Runs(data []byte) RunsResult {
	n := len(data) * 8
	if n < 2 {
		return RunsResult{}
	}

	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}
	zeros := n - ones

	if ones == 0 || zeros == 0 {
		return RunsResult{
			Runs:   1,
			Z:      math.Inf(1),
			PValue: 0,
		}
	}

	runs := countBitRuns(data)

	floatOnes := float64(ones)
	floatZeros := float64(zeros)
	floatN := float64(n)

	expected := 1 + (2*floatOnes*floatZeros)/floatN
	variance := (2 * floatOnes * floatZeros * (2*floatOnes*floatZeros - floatN)) /
		(floatN * floatN * (floatN - 1))

	if variance <= 0 {
		return RunsResult{
			Runs:         runs,
			ExpectedRuns: expected,
			Z:            math.Inf(1),
			PValue:       0,
		}
	}

	z := (float64(runs) - expected) / math.Sqrt(variance)
	p := clampProbability(math.Erfc(math.Abs(z) / math.Sqrt2))

	return RunsResult{
		Runs:         runs,
		ExpectedRuns: expected,
		Z:            z,
		PValue:       p,
	}
}

// countBitRuns walks the MSB-first bit stream and counts transitions.
// The caller guarantees at least one bit of input.
func countBitRuns(data []byte) int {
	view := bitstream.New(data)

	last, _ := view.Next()
	runs := 1
	for {
		bit, ok := view.Next()
		if !ok {
			return runs
		}
		if bit != last {
			runs++
			last = bit
		}
	}
}

// clampProbability bounds a probability to [0, 1] against floating-point
// drift in the erf/erfc approximations.
func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
