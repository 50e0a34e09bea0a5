// Package ingest serves the collector endpoints that accept and query
// performance reports.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/internal/store"
	apierrors "github.com/saveenergy/pagevitals/pkg/errors"
	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultWindow       = 24 * time.Hour
	maxWindow           = 90 * 24 * time.Hour
	maxURLLength        = 2048
	maxUserAgentLength  = 512
	maxMetricNameLength = 128
	maxSamplesPerReport = 5000
	maxPagesLimit       = 500
)

// Store is the persistence the handlers need.
type Store interface {
	Save(ctx context.Context, report types.Report, clientIP string) (string, error)
	Get(ctx context.Context, id string) (*types.StoredReport, error)
	PageSummary(ctx context.Context, url string, since time.Time) (*types.PageSummary, error)
	Pages(ctx context.Context, since time.Time, limit int) ([]types.PageInfo, error)
}

// Broadcaster receives every stored report, e.g. the live WebSocket hub.
type Broadcaster interface {
	Broadcast(report types.StoredReport)
}

// Sink receives every accepted report, e.g. the InfluxDB forwarder.
type Sink interface {
	Collect(report types.Report)
}

type Handler struct {
	store        Store
	thresholds   vitals.Thresholds
	maxBodyBytes int64
	window       time.Duration
	clientIP     func(*http.Request) string
	broadcaster  Broadcaster
	sinks        []Sink
	now          func() time.Time
	logger       *logging.Logger
}

func NewHandler(s Store) *Handler {
	return &Handler{
		store:        s,
		thresholds:   vitals.DefaultThresholds(),
		maxBodyBytes: DefaultMaxBodyBytes,
		window:       DefaultWindow,
		now:          time.Now,
		logger:       logging.NewLogger("ingest"),
	}
}

func (h *Handler) SetThresholds(t vitals.Thresholds) {
	h.thresholds = vitals.DefaultThresholds().Merge(t)
}

func (h *Handler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBodyBytes = n
	}
}

// SetDefaultWindow sets the summary window used when the request has none.
func (h *Handler) SetDefaultWindow(d time.Duration) {
	if d > 0 {
		h.window = d
	}
}

func (h *Handler) SetClientIPFunc(fn func(*http.Request) string) {
	h.clientIP = fn
}

func (h *Handler) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *Handler) AddSink(sink Sink) {
	h.sinks = append(h.sinks, sink)
}

func (h *Handler) SetLogger(l *logging.Logger) {
	if l != nil {
		h.logger = l
	}
}

type ingestResponse struct {
	ID string `json:"id"`
}

// Ingest accepts one report posted by an aggregator. Beacon deliveries arrive
// as text/plain and are decoded the same way as JSON.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if !acceptedContentType(r.Header.Get("Content-Type")) {
		drainRequestBody(r)
		respondJSONError(w, "Content-Type must be application/json or text/plain", http.StatusUnsupportedMediaType)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var src io.ReadCloser = body
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			drainRequestBody(r)
			respondJSONError(w, "invalid gzip body", http.StatusBadRequest)
			return
		}
		defer zr.Close()
		src = http.MaxBytesReader(w, zr, h.maxBodyBytes)
	default:
		drainRequestBody(r)
		respondJSONError(w, "unsupported Content-Encoding", http.StatusUnsupportedMediaType)
		return
	}

	decoder := json.NewDecoder(src)
	decoder.DisallowUnknownFields()
	var report types.Report
	if err := decoder.Decode(&report); err != nil {
		io.Copy(io.Discard, src)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondJSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		io.Copy(io.Discard, src)
		respondJSONError(w, "request body must contain a single JSON object", http.StatusBadRequest)
		return
	}

	if err := ValidateReport(report); err != nil {
		respondAPIError(w, err)
		return
	}

	clientIP := h.resolveClientIP(r)
	id, err := h.store.Save(r.Context(), report, clientIP)
	if err != nil {
		h.logger.Warn("save failed", logging.Field{Key: "error", Value: err})
		msg, code := mapSaveStoreError(err)
		respondJSONError(w, msg, code)
		return
	}

	h.logger.Debug("report stored",
		logging.Field{Key: "id", Value: id},
		logging.Field{Key: "url", Value: report.URL},
		logging.Field{Key: "samples", Value: len(report.Metrics)},
		logging.Field{Key: "report_id", Value: r.Header.Get(vitals.ReportIDHeader)})

	if h.broadcaster != nil {
		h.broadcaster.Broadcast(types.StoredReport{
			ID:         id,
			ReceivedAt: h.now().UTC(),
			Report:     report,
		})
	}
	for _, sink := range h.sinks {
		sink.Collect(report)
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{ID: id})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		respondJSONError(w, "invalid report ID", http.StatusBadRequest)
		return
	}

	report, err := h.store.Get(r.Context(), id)
	if err != nil {
		msg, code := mapGetStoreError(err)
		respondJSONError(w, msg, code)
		return
	}
	if report == nil {
		respondAPIError(w, apierrors.ErrReportNotFound(id))
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Summary returns per-metric percentiles for one page. Each metric with a
// threshold is rated by its p75.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageURL := q.Get("url")
	if pageURL == "" || len(pageURL) > maxURLLength {
		respondJSONError(w, "url query parameter required", http.StatusBadRequest)
		return
	}
	window, err := parseWindow(q.Get("window"), h.window)
	if err != nil {
		respondJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.store.PageSummary(r.Context(), pageURL, h.now().Add(-window))
	if err != nil {
		msg, code := mapGetStoreError(err)
		respondJSONError(w, msg, code)
		return
	}
	RateSummary(summary, h.thresholds)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Pages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := parseWindow(q.Get("window"), h.window)
	if err != nil {
		respondJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPagesLimit {
			respondJSONError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	pages, err := h.store.Pages(r.Context(), h.now().Add(-window), limit)
	if err != nil {
		msg, code := mapGetStoreError(err)
		respondJSONError(w, msg, code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pages": pages})
}

// RateSummary fills Rating of every metric that has a threshold.
func RateSummary(summary *types.PageSummary, thresholds vitals.Thresholds) {
	if summary == nil {
		return
	}
	for name, m := range summary.Metrics {
		if m.Count == 0 {
			continue
		}
		m.Rating = thresholds.Rate(name, m.P75)
		summary.Metrics[name] = m
	}
}

// ValidateReport rejects reports that could not have come from an aggregator.
func ValidateReport(report types.Report) error {
	switch {
	case report.URL == "":
		return apierrors.ErrInvalidReport("url is required", nil)
	case len(report.URL) > maxURLLength:
		return apierrors.ErrInvalidReport("url too long", nil)
	case len(report.UserAgent) > maxUserAgentLength:
		return apierrors.ErrInvalidReport("userAgent too long", nil)
	case report.Timestamp < 0:
		return apierrors.ErrInvalidReport("timestamp must be >= 0", nil)
	case len(report.Metrics) > maxSamplesPerReport:
		return apierrors.ErrInvalidReport("too many metrics", nil)
	}

	for _, m := range report.Metrics {
		if m.Name == "" || len(m.Name) > maxMetricNameLength {
			return apierrors.ErrInvalidReport("metric name missing or too long", nil)
		}
		if !m.Rating.Valid() {
			return apierrors.ErrInvalidReport("unknown rating "+strconv.Quote(string(m.Rating)), nil)
		}
		if hasNonFinite(m.Value) || !extraFinite(m.Extra) {
			return apierrors.ErrInvalidReport("numeric fields must be finite", nil)
		}
		if types.IsCoreVital(m.Name) && m.Value < 0 {
			return apierrors.ErrInvalidReport(m.Name+" must be >= 0", nil)
		}
	}
	for name, v := range report.Summary.Vitals {
		if hasNonFinite(v.Value) || !v.Rating.Valid() {
			return apierrors.ErrInvalidReport("invalid summary for "+name, nil)
		}
	}
	return nil
}

func parseWindow(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > maxWindow {
		return 0, errors.New("window must be a positive duration up to 2160h")
	}
	return d, nil
}

func (h *Handler) resolveClientIP(r *http.Request) string {
	if h.clientIP != nil {
		return h.clientIP(r)
	}
	return types.StripHostPort(r.RemoteAddr)
}

func acceptedContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/plain")
}

func extraFinite(extra map[string]interface{}) bool {
	for _, v := range extra {
		switch n := v.(type) {
		case float64:
			if hasNonFinite(n) {
				return false
			}
		case map[string]interface{}:
			if !extraFinite(n) {
				return false
			}
		}
	}
	return true
}

func respondAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		respondJSONError(w, apiErr.Message, apiErr.HTTPStatus())
		return
	}
	respondJSONError(w, "internal error", http.StatusInternalServerError)
}

func respondJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("ingest: marshal response failed", logging.Field{Key: "error", Value: err})
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		logging.Warn("ingest: write response failed", logging.Field{Key: "error", Value: err})
	}
}

func mapGetStoreError(err error) (string, int) {
	if errors.Is(err, store.ErrStoreRetryable) {
		return "store temporarily unavailable", http.StatusServiceUnavailable
	}
	return "internal error", http.StatusInternalServerError
}

func mapSaveStoreError(err error) (string, int) {
	if errors.Is(err, store.ErrStoreRetryable) {
		return "store temporarily unavailable", http.StatusServiceUnavailable
	}
	return "failed to save report", http.StatusInternalServerError
}

func hasNonFinite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func drainRequestBody(r *http.Request) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}
