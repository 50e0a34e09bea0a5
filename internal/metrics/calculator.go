package metrics

import (
	"sort"

	"github.com/saveenergy/pagevitals/pkg/types"
)

// Summarize computes the distribution of one metric. ratings may be shorter
// than values; missing ratings are not counted.
func Summarize(values []float64, ratings []types.Rating) types.MetricSummary {
	if len(values) == 0 {
		return types.MetricSummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	summary := types.MetricSummary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   Percentile(sorted, 50),
		P75:   Percentile(sorted, 75),
		P95:   Percentile(sorted, 95),
	}

	for _, r := range ratings {
		if r == "" {
			continue
		}
		if summary.Ratings == nil {
			summary.Ratings = make(map[types.Rating]int, 3)
		}
		summary.Ratings[r]++
	}
	return summary
}

// Percentile returns sorted[len*p/100]. sorted must be in ascending order.
func Percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Mean returns the arithmetic mean of values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
