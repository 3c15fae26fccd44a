package stats

import "math"

// chiSquareDF is the fixed degrees of freedom for the 256-bin byte test.
const chiSquareDF = 255

// ChiSquareResult holds the outcome of the byte-distribution uniformity
// test. PApprox is a Wilson-Hilferty normal approximation of the upper tail
// probability for df=255; it is indicative, not exact.
type ChiSquareResult struct {
	ChiSquare float64 `json:"chi_square"`
	PApprox   float64 `json:"p_approx"`
}

// ChiSquare measures divergence of the observed byte distribution from
// uniform across all 256 values. Empty input yields (0, 0).
func ChiSquare(data []byte) ChiSquareResult {
	n := len(data)
	if n == 0 {
		return ChiSquareResult{}
	}

	counts := countBytes(data)
	expected := float64(n) / 256.0

	chi := 0.0
	for _, count := range counts {
		diff := float64(count) - expected
		chi += diff * diff / expected
	}

	return ChiSquareResult{
		ChiSquare: chi,
		PApprox:   chiSquareUpperTail(chi),
	}
}

// chiSquareUpperTail approximates P(X > chi) for a chi-square variable with
// df=255 via the Wilson-Hilferty cube-root transform: (X/df)^(1/3) is
// treated as normal with mean 1-2/(9df) and variance 2/(9df). Kept in place
// of an exact CDF so reported values stay comparable with the historical
// tooling around the device.
func chiSquareUpperTail(chi float64) float64 {
	const df = float64(chiSquareDF)

	cubeRoot := math.Cbrt(chi / df)
	mu := 1 - 2/(9*df)
	sigma := math.Sqrt(2 / (9 * df))
	z := (cubeRoot - mu) / sigma

	phi := 0.5 * (1 + math.Erf(z/math.Sqrt2))
	return clampProbability(1 - phi)
}

// Entropy returns the empirical Shannon entropy of the byte distribution in
// bits per byte, bounded in [0, 8]. Byte values that never occur contribute
// nothing (the 0*log(0)=0 convention). Empty input yields 0.
func Entropy(data []byte) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	counts := countBytes(data)

	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(n)
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// SerialCorrelation returns the Pearson-style lag-1 autocorrelation of
// adjacent byte values, treating the buffer as circular so the final byte
// pairs with the first. The result lies in [-1, 1] for well-formed input.
// Buffers shorter than two bytes, and constant buffers (zero denominator),
// yield 0 by convention.
func SerialCorrelation(data []byte) float64 {
	n := len(data)
	if n < 2 {
		return 0
	}

	var s1, s2, s12 float64
	for i, b := range data {
		value := float64(b)
		next := float64(data[(i+1)%n])

		s1 += value
		s2 += value * value
		s12 += value * next
	}

	floatN := float64(n)
	numerator := floatN*s12 - s1*s1
	denominator := floatN*s2 - s1*s1

	if denominator == 0 {
		return 0
	}

	return numerator / denominator
}

// countBytes tallies the occurrences of each of the 256 byte values.
func countBytes(data []byte) [256]int {
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	return counts
}
