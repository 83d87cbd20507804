package stats

import (
	"math"
	"sort"
	"time"

	"steadybench/internal/settings"
)

// ReportedQuantiles are the quantiles every summary carries.
var ReportedQuantiles = []float64{0.50, 0.90, 0.95, 0.97, 0.99, 0.999}

// Quantile is one point of a latency distribution.
type Quantile struct {
	Q     float64       `json:"q"`
	Value time.Duration `json:"value_ns"`
}

// Percentile reads quantile q (0..1) off an ascending slice.
func Percentile(sorted []int64, q float64, method settings.PercentileMethod) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	switch method {
	case settings.Linear:
		pos := q * float64(n-1)
		lo := int(math.Floor(pos))
		if lo >= n-1 {
			return sorted[n-1]
		}
		frac := pos - float64(lo)
		return sorted[lo] + int64(math.Round(frac*float64(sorted[lo+1]-sorted[lo])))
	default:
		idx := int(math.Ceil(q*float64(n))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}
}

func sortedCopy(vs []int64) []int64 {
	out := make([]int64, len(vs))
	copy(out, vs)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func quantiles(sorted []int64, method settings.PercentileMethod, extra ...float64) []Quantile {
	qs := append(append([]float64{}, ReportedQuantiles...), extra...)
	sort.Float64s(qs)
	out := make([]Quantile, 0, len(qs))
	for i, q := range qs {
		if q <= 0 || (i > 0 && qs[i-1] == q) {
			continue
		}
		out = append(out, Quantile{Q: q, Value: time.Duration(Percentile(sorted, q, method))})
	}
	return out
}

// At returns the value for quantile q from a computed set, or 0.
func At(qs []Quantile, q float64) time.Duration {
	for _, x := range qs {
		if math.Abs(x.Q-q) < 1e-9 {
			return x.Value
		}
	}
	return 0
}
