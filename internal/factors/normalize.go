package factors

import (
	"sort"

	"github.com/montanaflynn/stats"
)

// Winsorize clamps values to the lower and upper quantiles (0-1 scale),
// taming outliers before cross-sectional ranking. Quantile bounds use the
// nearest-rank method, so small samples degrade to no-op clamps rather
// than errors.
func Winsorize(values []float64, lower, upper float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	lo, err := stats.PercentileNearestRank(values, lower*100)
	if err != nil {
		return append([]float64(nil), values...)
	}
	hi, err := stats.PercentileNearestRank(values, upper*100)
	if err != nil {
		return append([]float64(nil), values...)
	}

	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v < lo:
			out[i] = lo
		case v > hi:
			out[i] = hi
		default:
			out[i] = v
		}
	}
	return out
}

// PercentileRank maps each value to its percentile rank within the slice
// on a 0-100 scale. Ties share the average of their ordinal ranks, so the
// result is independent of input order.
func PercentileRank(values []float64) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avgRank := float64(i+j+2) / 2 // mean of the 1-based ranks i+1..j+1
		for k := i; k <= j; k++ {
			out[idx[k]] = avgRank / float64(n) * 100
		}
		i = j + 1
	}
	return out
}

// ZScore standardizes values to zero mean and unit sample variance.
// A degenerate spread (constant input or a single value) maps to zeros.
func ZScore(values []float64) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return make([]float64, n)
	}
	stdev, err := stats.StandardDeviationSample(values)
	if err != nil || stdev == 0 {
		return make([]float64, n)
	}

	out := make([]float64, n)
	for i, v := range values {
		out[i] = (v - mean) / stdev
	}
	return out
}
