package vitals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/saveenergy/pagevitals/pkg/types"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport delivers a report. Send may block until ctx is done.
type Transport interface {
	Send(ctx context.Context, report *types.Report) error
}

// Beaconer is implemented by transports that can queue a report without
// blocking the caller. Beacon reports whether the report was queued.
type Beaconer interface {
	Beacon(report *types.Report) bool
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, report *types.Report) error

func (f TransportFunc) Send(ctx context.Context, report *types.Report) error { return f(ctx, report) }

const (
	defaultBeaconTimeout = 10 * time.Second
	beaconContentType    = "text/plain;charset=UTF-8"
	ReportIDHeader       = "X-Report-ID"
)

// HTTPTransport posts reports as JSON to a collector endpoint.
type HTTPTransport struct {
	endpoint      string
	httpClient    *http.Client
	gzip          bool
	beaconTimeout time.Duration

	beacons sync.WaitGroup
	closed  atomic.Bool
}

type HTTPOption func(*HTTPTransport)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.httpClient = hc }
}

// WithGzip compresses request bodies.
func WithGzip(enabled bool) HTTPOption {
	return func(t *HTTPTransport) { t.gzip = enabled }
}

// WithBeaconTimeout bounds each beacon delivery.
func WithBeaconTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.beaconTimeout = d
		}
	}
}

func NewHTTPTransport(endpoint string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint:      endpoint,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		beaconTimeout: defaultBeaconTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Endpoint() string { return t.endpoint }

// Send posts report and waits for the collector's answer.
func (t *HTTPTransport) Send(ctx context.Context, report *types.Report) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return t.post(ctx, payload, "application/json")
}

// Beacon serialises report immediately and delivers it from a detached
// goroutine, so cancelling the caller does not cancel the request.
func (t *HTTPTransport) Beacon(report *types.Report) bool {
	if t.closed.Load() {
		return false
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return false
	}

	t.beacons.Add(1)
	go func() {
		defer t.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.beaconTimeout)
		defer cancel()
		_ = t.post(ctx, payload, beaconContentType)
	}()
	return true
}

// Close rejects new reports and waits for queued beacons.
func (t *HTTPTransport) Close() error {
	t.closed.Store(true)
	t.beacons.Wait()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, payload []byte, contentType string) error {
	body := payload
	if t.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("compress report: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress report: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(ReportIDHeader, uuid.NewString())
	if t.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// ResolveEndpoint resolves a reporting endpoint path such as
// "/api/performance" against a collector base URL.
func ResolveEndpoint(base, endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative endpoint %q needs a base URL", endpoint)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return "", fmt.Errorf("base URL must use http or https, got %q", base)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// MultiTransport delivers every report to each of its transports.
type MultiTransport []Transport

func (m MultiTransport) Send(ctx context.Context, report *types.Report) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Beacon queues report on every transport, falling back to a detached Send
// for transports without a beacon path. It reports whether any accepted it.
func (m MultiTransport) Beacon(report *types.Report) bool {
	queued := false
	for _, t := range m {
		if b, ok := t.(Beaconer); ok {
			if b.Beacon(report) {
				queued = true
			}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultBeaconTimeout)
		if t.Send(ctx, report) == nil {
			queued = true
		}
		cancel()
	}
	return queued
}
