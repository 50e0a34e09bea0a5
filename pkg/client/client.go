// Package client provides a Go SDK for a pagevitals collector. Agents and
// applications can import this package instead of shelling out to the CLI.
//
// Usage:
//
//	c := client.New("https://vitals.example.com")
//	id, err := c.Submit(ctx, report)
//	result, err := c.Diagnose(ctx, "https://example.com/", 24*time.Hour)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/saveenergy/pagevitals/pkg/diagnostic"
	apierrors "github.com/saveenergy/pagevitals/pkg/errors"
	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

const maxResponseBytes = 8 << 20

// Client talks to a single collector.
type Client struct {
	serverURL     string
	reportingPath string
	httpClient    *http.Client
	thresholds    vitals.Thresholds
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReportingPath sets the ingest path when the collector does not use the
// default.
func WithReportingPath(path string) Option {
	return func(c *Client) { c.reportingPath = path }
}

// WithThresholds sets the bounds Diagnose grades against.
func WithThresholds(t vitals.Thresholds) Option {
	return func(c *Client) { c.thresholds = t }
}

// New creates a client targeting the given collector URL.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:     strings.TrimRight(serverURL, "/"),
		reportingPath: vitals.DefaultReportingEndpoint,
		httpClient:    &http.Client{},
		thresholds:    vitals.DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts a report and returns the id the collector assigned.
func (c *Client) Submit(ctx context.Context, report *types.Report) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.reportingPath, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetReport fetches a stored report. A missing report yields an error
// matching errors.ErrNotFound.
func (c *Client) GetReport(ctx context.Context, id string) (*types.StoredReport, error) {
	var out types.StoredReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PageSummary fetches the p75 summary of pageURL. A zero window uses the
// collector default.
func (c *Client) PageSummary(ctx context.Context, pageURL string, window time.Duration) (*types.PageSummary, error) {
	q := url.Values{"url": {pageURL}}
	if window > 0 {
		q.Set("window", window.String())
	}
	var out types.PageSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/pages/summary?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pages lists recently reporting pages, most recent first.
func (c *Client) Pages(ctx context.Context, window time.Duration, limit int) ([]types.PageInfo, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window", window.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/pages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Pages []types.PageInfo `json:"pages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Pages, nil
}

// DiagnoseResult is a page summary together with its interpretation.
type DiagnoseResult struct {
	ServerURL      string                     `json:"server_url"`
	Summary        *types.PageSummary         `json:"summary"`
	DurationMs     int64                      `json:"duration_ms"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// Diagnose fetches the page summary and grades it.
func (c *Client) Diagnose(ctx context.Context, pageURL string, window time.Duration) (*DiagnoseResult, error) {
	start := time.Now()
	summary, err := c.PageSummary(ctx, pageURL, window)
	if err != nil {
		return nil, err
	}
	return &DiagnoseResult{
		ServerURL:      c.serverURL,
		Summary:        summary,
		DurationMs:     time.Since(start).Milliseconds(),
		Interpretation: diagnostic.Interpret(summary, c.thresholds),
	}, nil
}

// Health is the collector's health payload.
type Health struct {
	Status        string  `json:"status"`
	Reports       int     `json:"reports"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Health returns the collector health. A degraded collector yields an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy returns nil if the collector is reachable and healthy.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("collector unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierrors.FromStatus(resp.StatusCode, errorMessage(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error  string `json:"error"`
		Status string `json:"status"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Status
}
