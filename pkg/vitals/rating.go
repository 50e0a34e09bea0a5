package vitals

import (
	"fmt"
	"sort"

	"github.com/saveenergy/pagevitals/pkg/types"
)

// Threshold holds the inclusive upper bounds of the good and
// needs-improvement bands of one metric.
type Threshold struct {
	Good             float64 `yaml:"good" json:"good"`
	NeedsImprovement float64 `yaml:"needsImprovement" json:"needs_improvement"`
}

// Rate maps value onto a band. Bounds are inclusive: a value equal to Good is
// good, a value equal to NeedsImprovement needs improvement.
func (t Threshold) Rate(value float64) types.Rating {
	switch {
	case value <= t.Good:
		return types.RatingGood
	case value <= t.NeedsImprovement:
		return types.RatingNeedsImprovement
	default:
		return types.RatingPoor
	}
}

func (t Threshold) validate() error {
	if t.Good < 0 || t.NeedsImprovement < 0 {
		return fmt.Errorf("bounds must not be negative")
	}
	if t.NeedsImprovement < t.Good {
		return fmt.Errorf("needs-improvement bound %v below good bound %v", t.NeedsImprovement, t.Good)
	}
	return nil
}

// Thresholds maps a core vital name to its rating bounds.
type Thresholds map[string]Threshold

// DefaultThresholds returns the current web.dev guidance. The values are
// revised periodically upstream, so callers may override them.
func DefaultThresholds() Thresholds {
	return Thresholds{
		types.MetricLCP: {Good: 2500, NeedsImprovement: 4000},
		types.MetricFID: {Good: 100, NeedsImprovement: 300},
		types.MetricINP: {Good: 200, NeedsImprovement: 500},
		types.MetricCLS: {Good: 0.1, NeedsImprovement: 0.25},
		types.MetricFCP: {Good: 1800, NeedsImprovement: 3000},
		types.MetricTTI: {Good: 3800, NeedsImprovement: 7300},
	}
}

// Rate rates value for metric. Metrics without a threshold get an empty
// rating.
func (t Thresholds) Rate(metric string, value float64) types.Rating {
	th, ok := t[metric]
	if !ok {
		return ""
	}
	return th.Rate(value)
}

// Merge returns a copy of t with override applied per bound. A zero bound
// in override keeps the value already in t.
func (t Thresholds) Merge(override Thresholds) Thresholds {
	out := make(Thresholds, len(t)+len(override))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range override {
		cur := out[k]
		if v.Good != 0 {
			cur.Good = v.Good
		}
		if v.NeedsImprovement != 0 {
			cur.NeedsImprovement = v.NeedsImprovement
		}
		out[k] = cur
	}
	return out
}

// ThresholdOverride is a partial Threshold. Nil bounds are left as they are,
// so an explicit zero can still be set.
type ThresholdOverride struct {
	Good             *float64 `yaml:"good,omitempty" json:"good,omitempty"`
	NeedsImprovement *float64 `yaml:"needsImprovement,omitempty" json:"needs_improvement,omitempty"`
}

// ThresholdOverrides maps a core vital name to its partial bounds.
type ThresholdOverrides map[string]ThresholdOverride

// ApplyTo returns a copy of base with the set bounds replaced.
func (o ThresholdOverrides) ApplyTo(base Thresholds) Thresholds {
	out := make(Thresholds, len(base)+len(o))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range o {
		cur := out[k]
		if v.Good != nil {
			cur.Good = *v.Good
		}
		if v.NeedsImprovement != nil {
			cur.NeedsImprovement = *v.NeedsImprovement
		}
		out[k] = cur
	}
	return out
}

// Validate checks every threshold in metric-name order.
func (t Thresholds) Validate() error {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t[name].validate(); err != nil {
			return fmt.Errorf("threshold %s: %w", name, err)
		}
	}
	return nil
}
