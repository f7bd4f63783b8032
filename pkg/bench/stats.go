package bench

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the latency distribution of a run.
type Summary struct {
	Steps int

	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
	P50    time.Duration
	P90    time.Duration
	P99    time.Duration

	// StepsPerSecond is the reciprocal of the mean latency.
	StepsPerSecond float64
}

// Summarize computes latency statistics. An empty input gives a zero Summary.
func Summarize(latencies []time.Duration) Summary {
	if len(latencies) == 0 {
		return Summary{}
	}

	x := make([]float64, len(latencies))
	for i, l := range latencies {
		x[i] = float64(l)
	}
	slices.Sort(x)

	mean := stat.Mean(x, nil)
	s := Summary{
		Steps: len(x),
		Mean:  time.Duration(mean),
		Min:   time.Duration(floats.Min(x)),
		Max:   time.Duration(floats.Max(x)),
		P50:   time.Duration(stat.Quantile(0.5, stat.Empirical, x, nil)),
		P90:   time.Duration(stat.Quantile(0.9, stat.Empirical, x, nil)),
		P99:   time.Duration(stat.Quantile(0.99, stat.Empirical, x, nil)),
	}
	if len(x) > 1 {
		s.StdDev = time.Duration(stat.StdDev(x, nil))
	}
	if mean > 0 {
		s.StepsPerSecond = float64(time.Second) / mean
	}
	return s
}
