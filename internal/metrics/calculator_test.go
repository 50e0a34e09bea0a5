package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saveenergy/pagevitals/pkg/types"
)

func TestSummarize(t *testing.T) {
	values := []float64{4200, 1200, 1800, 2600, 900, 3100, 2000, 1500}
	ratings := []types.Rating{
		types.RatingPoor, types.RatingGood, types.RatingGood, types.RatingNeedsImprovement,
		types.RatingGood, types.RatingNeedsImprovement, types.RatingGood, "",
	}

	s := Summarize(values, ratings)
	assert.Equal(t, 8, s.Count)
	assert.Equal(t, 900.0, s.Min)
	assert.Equal(t, 4200.0, s.Max)
	// sorted: 900 1200 1500 1800 2000 2600 3100 4200
	assert.Equal(t, 2000.0, s.P50)
	assert.Equal(t, 3100.0, s.P75)
	assert.Equal(t, 4200.0, s.P95)
	assert.Equal(t, map[types.Rating]int{
		types.RatingGood:             4,
		types.RatingNeedsImprovement: 2,
		types.RatingPoor:             1,
	}, s.Ratings)

	assert.Equal(t, 1200.0, values[1], "input must not be reordered")
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, types.MetricSummary{}, Summarize(nil, nil))
}

func TestPercentileSingle(t *testing.T) {
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99))
	assert.Zero(t, Percentile(nil, 50))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 2.5, Mean([]float64{1, 2, 3, 4}))
	assert.Zero(t, Mean(nil))
}
