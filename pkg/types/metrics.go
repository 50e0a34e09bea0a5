package types

// Rating is the quality band of a metric value.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Valid reports whether r is one of the known bands. An empty rating is
// valid and marks samples that have no threshold (alerts, custom metrics).
func (r Rating) Valid() bool {
	switch r {
	case "", RatingGood, RatingNeedsImprovement, RatingPoor:
		return true
	}
	return false
}

// Metric names emitted by the aggregator.
const (
	MetricLCP          = "LCP"
	MetricFID          = "FID"
	MetricINP          = "INP"
	MetricCLS          = "CLS"
	MetricFCP          = "FCP"
	MetricTTI          = "TTI"
	MetricNavigation   = "navigation"
	MetricResource     = "resource"
	MetricLongTask     = "long_task"
	MetricCustomMetric = "custom_metric"
	MetricCustomTiming = "custom_timing"
)

// CoreVitals lists the metrics that carry a rating and are summarised by
// their latest value.
var CoreVitals = []string{MetricLCP, MetricFID, MetricINP, MetricCLS, MetricFCP, MetricTTI}

// IsCoreVital reports whether name is one of CoreVitals.
func IsCoreVital(name string) bool {
	for _, v := range CoreVitals {
		if v == name {
			return true
		}
	}
	return false
}

// MetricSample is one derived measurement. Values are treated as immutable
// once constructed.
type MetricSample struct {
	Name      string                 `json:"name"`
	Value     float64                `json:"value"`
	Rating    Rating                 `json:"rating,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Report is the envelope posted to the reporting endpoint.
type Report struct {
	URL       string         `json:"url"`
	UserAgent string         `json:"userAgent"`
	Timestamp int64          `json:"timestamp"`
	Metrics   []MetricSample `json:"metrics"`
	Summary   Summary        `json:"summary"`
}

// Summary is the compact aggregate attached to every report.
type Summary struct {
	Vitals map[string]VitalSnapshot `json:"vitals,omitempty"`
	Counts map[string]int           `json:"counts,omitempty"`
}

// VitalSnapshot is the latest value of one core vital.
type VitalSnapshot struct {
	Value     float64 `json:"value"`
	Rating    Rating  `json:"rating"`
	Timestamp int64   `json:"timestamp"`
}
