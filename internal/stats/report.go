package stats

// Report aggregates the sample size and the results of all five tests for
// one analysis run. It is a plain value: once built it is never modified,
// and rebuilding it from the same buffer yields an identical report.
type Report struct {
	SampleBytes        int             `json:"sample_bytes"`
	Monobit            MonobitResult   `json:"monobit"`
	Runs               RunsResult      `json:"runs"`
	ChiSquare          ChiSquareResult `json:"chi_square"`
	EntropyBitsPerByte float64         `json:"entropy_bits_per_byte"`
	SerialCorrelation  float64         `json:"serial_correlation"`
}

// Analyze runs the full battery against data and assembles the report.
// Each test reads the buffer independently; none mutates it. Analyze
// performs no sufficiency judgment: callers decide whether the sample size
// warrants an advisory.
func Analyze(data []byte) Report {
	return Report{
		SampleBytes:        len(data),
		Monobit:            Monobit(data),
		Runs:               Runs(data),
		ChiSquare:          ChiSquare(data),
		EntropyBitsPerByte: Entropy(data),
		SerialCorrelation:  SerialCorrelation(data),
	}
}
