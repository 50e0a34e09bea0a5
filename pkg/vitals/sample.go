package vitals

import (
	"math"
	"time"

	"github.com/saveenergy/pagevitals/pkg/types"
)

// NewSample builds a sample stamped with ts. extra is copied so later
// changes by the caller do not leak into the sample. Non-finite numbers,
// in value or anywhere inside extra, become 0.
func NewSample(name string, value float64, rating types.Rating, ts time.Time, extra map[string]interface{}) types.MetricSample {
	return types.MetricSample{
		Name:      name,
		Value:     finite(value),
		Rating:    rating,
		Timestamp: ts.UnixMilli(),
		Extra:     finiteExtra(extra),
	}
}

// finite maps NaN and ±Inf to 0. They cannot be encoded as JSON and would
// fail the whole report.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finiteExtra(extra map[string]interface{}) map[string]interface{} {
	if len(extra) == 0 {
		return nil
	}
	cp := make(map[string]interface{}, len(extra))
	for k, v := range extra {
		cp[k] = finiteValue(v)
	}
	return cp
}

func finiteValue(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return float32(finite(float64(n)))
	case map[string]interface{}:
		return finiteExtra(n)
	case []interface{}:
		cp := make([]interface{}, len(n))
		for i, e := range n {
			cp[i] = finiteValue(e)
		}
		return cp
	case []float64:
		cp := make([]float64, len(n))
		for i, e := range n {
			cp[i] = finite(e)
		}
		return cp
	default:
		return v
	}
}
