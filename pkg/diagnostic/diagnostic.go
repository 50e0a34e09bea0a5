// Package diagnostic interprets a page's field vitals into human/agent-readable
// grades, ratings, and concerns.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

// MinReports is the report count below which a page is flagged as sparse.
const MinReports = 10

// Interpretation holds the semantic interpretation of a page summary.
type Interpretation struct {
	Grade               string   `json:"grade"`
	Summary             string   `json:"summary"`
	Passed              bool     `json:"passed"`
	LoadingRating       string   `json:"loading_rating"`
	InteractivityRating string   `json:"interactivity_rating"`
	StabilityRating     string   `json:"stability_rating"`
	Concerns            []string `json:"concerns"`
}

// Interpret rates the p75 of LCP, INP (FID when no INP was seen) and CLS.
// The page passes when all three are good. nil thresholds mean defaults.
func Interpret(s *types.PageSummary, thresholds vitals.Thresholds) *Interpretation {
	if thresholds == nil {
		thresholds = vitals.DefaultThresholds()
	}
	interp := &Interpretation{Concerns: []string{}}
	if s == nil {
		s = &types.PageSummary{}
	}

	rate := func(metric string) string {
		m, ok := s.Metrics[metric]
		if !ok || m.Count == 0 {
			return "unknown"
		}
		return string(thresholds.Rate(metric, m.P75))
	}

	interp.LoadingRating = rate(types.MetricLCP)
	interp.InteractivityRating = rate(types.MetricINP)
	if interp.InteractivityRating == "unknown" {
		interp.InteractivityRating = rate(types.MetricFID)
	}
	interp.StabilityRating = rate(types.MetricCLS)

	interp.Passed = interp.LoadingRating == string(types.RatingGood) &&
		interp.InteractivityRating == string(types.RatingGood) &&
		interp.StabilityRating == string(types.RatingGood)

	interp.Concerns = concerns(s, interp, rate)
	interp.Grade = computeGrade(interp.LoadingRating, interp.InteractivityRating, interp.StabilityRating)
	interp.Summary = buildSummary(interp.Grade, s)

	return interp
}

func concerns(s *types.PageSummary, interp *Interpretation, rate func(string) string) []string {
	c := []string{}
	bad := func(r string) bool {
		return r == string(types.RatingPoor) || r == string(types.RatingNeedsImprovement)
	}

	if bad(interp.LoadingRating) {
		c = append(c, "slow_lcp")
	}
	if bad(interp.InteractivityRating) {
		c = append(c, "slow_interaction")
	}
	if bad(interp.StabilityRating) {
		c = append(c, "layout_shift")
	}
	if bad(rate(types.MetricFCP)) {
		c = append(c, "slow_fcp")
	}
	if bad(rate(types.MetricTTI)) {
		c = append(c, "slow_tti")
	}
	if s.Reports > 0 && s.Metrics[types.MetricLongTask].Count > 2*s.Reports {
		c = append(c, "long_tasks")
	}
	if s.Reports < MinReports {
		c = append(c, "few_reports")
	}
	return c
}

var ratingScore = map[string]int{
	string(types.RatingGood):             4,
	string(types.RatingNeedsImprovement): 2,
	string(types.RatingPoor):             0,
	"unknown":                            2, // neutral default
}

func computeGrade(loading, interactivity, stability string) string {
	score := ratingScore[loading] + ratingScore[interactivity] + ratingScore[stability]
	// Max score = 12 (4+4+4)
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

func buildSummary(grade string, s *types.PageSummary) string {
	gradeDesc := map[string]string{
		"A": "Excellent",
		"B": "Good",
		"C": "Fair",
		"D": "Poor",
		"F": "Very poor",
	}

	parts := []string{}
	if m, ok := s.Metrics[types.MetricLCP]; ok && m.Count > 0 {
		parts = append(parts, fmt.Sprintf("LCP %.0fms", m.P75))
	}
	if m, ok := s.Metrics[types.MetricINP]; ok && m.Count > 0 {
		parts = append(parts, fmt.Sprintf("INP %.0fms", m.P75))
	} else if m, ok := s.Metrics[types.MetricFID]; ok && m.Count > 0 {
		parts = append(parts, fmt.Sprintf("FID %.0fms", m.P75))
	}
	if m, ok := s.Metrics[types.MetricCLS]; ok && m.Count > 0 {
		parts = append(parts, fmt.Sprintf("CLS %.2f", m.P75))
	}

	summary := gradeDesc[grade] + " page experience"
	if len(parts) > 0 {
		summary += " (p75): " + strings.Join(parts, ", ")
	}
	return summary
}
