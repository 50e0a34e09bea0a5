package types

import "time"

// StoredReport is a report as persisted by the collector.
type StoredReport struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Report
}

// PageSummary aggregates the samples of one page URL over a time window.
type PageSummary struct {
	URL         string                   `json:"url"`
	WindowStart time.Time                `json:"window_start"`
	WindowEnd   time.Time                `json:"window_end"`
	Reports     int                      `json:"reports"`
	Metrics     map[string]MetricSummary `json:"metrics"`
}

// MetricSummary is the distribution of one metric on a page.
type MetricSummary struct {
	Count   int            `json:"count"`
	P50     float64        `json:"p50"`
	P75     float64        `json:"p75"`
	P95     float64        `json:"p95"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Rating  Rating         `json:"rating,omitempty"`
	Ratings map[Rating]int `json:"ratings,omitempty"`
}

// PageInfo describes a page URL that reported recently.
type PageInfo struct {
	URL        string    `json:"url"`
	Reports    int       `json:"reports"`
	LastReport time.Time `json:"last_report"`
}
