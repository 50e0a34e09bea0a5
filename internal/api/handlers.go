package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/saveenergy/pagevitals/internal/logging"
)

// Counter reports how many reports the collector holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	store   Counter
	version string
	started time.Time
}

func NewHandler(store Counter) *Handler {
	return &Handler{
		store:   store,
		version: "dev",
		started: time.Now(),
	}
}

func (h *Handler) SetVersion(version string) {
	if version == "" {
		version = "dev"
	}
	h.version = version
}

type VersionResponse struct {
	Version string `json:"version"`
}

type HealthResponse struct {
	Status        string  `json:"status"`
	Reports       int     `json:"reports"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, VersionResponse{Version: h.version}, http.StatusOK)
}

// HealthCheck answers 200 while the store is reachable and 503 otherwise.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		n, err := h.store.Count(ctx)
		if err != nil {
			logging.Warn("health: store count failed", logging.Field{Key: "error", Value: err})
			resp.Status = "degraded"
			respondJSON(w, resp, http.StatusServiceUnavailable)
			return
		}
		resp.Reports = n
	}
	respondJSON(w, resp, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed",
			logging.Field{Key: "error", Value: err})
	}
}
