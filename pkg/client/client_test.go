package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/internal/api"
	"github.com/saveenergy/pagevitals/internal/ingest"
	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/internal/store"
	"github.com/saveenergy/pagevitals/pkg/client"
	apierrors "github.com/saveenergy/pagevitals/pkg/errors"
	"github.com/saveenergy/pagevitals/pkg/types"
)

func newCollector(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "vitals.db"), 0, 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ih := ingest.NewHandler(s)
	ih.SetLogger(logging.Discard())
	router := api.NewRouter(api.NewHandler(s), ih)
	server := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(server.Close)
	return server
}

func report(page string, lcp float64) *types.Report {
	now := time.Now().UnixMilli()
	return &types.Report{
		URL:       page,
		UserAgent: "client-test",
		Timestamp: now,
		Metrics: []types.MetricSample{
			{Name: types.MetricLCP, Value: lcp, Rating: types.RatingGood, Timestamp: now},
			{Name: types.MetricCLS, Value: 0.02, Rating: types.RatingGood, Timestamp: now},
			{Name: types.MetricINP, Value: 120, Rating: types.RatingGood, Timestamp: now},
		},
	}
}

func TestSubmitAndGetReport(t *testing.T) {
	server := newCollector(t)
	c := client.New(server.URL)
	ctx := context.Background()

	id, err := c.Submit(ctx, report("https://example.com/", 1200))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := c.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.ID)
	assert.Equal(t, "https://example.com/", stored.URL)
	assert.Len(t, stored.Metrics, 3)
}

func TestGetReportNotFound(t *testing.T) {
	server := newCollector(t)
	c := client.New(server.URL)

	_, err := c.GetReport(context.Background(), "6f1c2b8e-4a7d-4a44-9a55-0c7d1f1e2a3b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierrors.ErrNotFound))

	var apiErr *apierrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.HTTPStatus())
}

func TestSubmitInvalidReport(t *testing.T) {
	server := newCollector(t)
	c := client.New(server.URL)

	_, err := c.Submit(context.Background(), &types.Report{UserAgent: "client-test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierrors.ErrInvalid))
}

func TestDiagnoseAndPages(t *testing.T) {
	server := newCollector(t)
	c := client.New(server.URL)
	ctx := context.Background()

	for _, lcp := range []float64{900, 1100, 1300, 1500} {
		_, err := c.Submit(ctx, report("https://example.com/fast", lcp))
		require.NoError(t, err)
	}

	result, err := c.Diagnose(ctx, "https://example.com/fast", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Summary.Reports)
	assert.Equal(t, "good", result.Interpretation.LoadingRating)
	assert.True(t, result.Interpretation.Passed)
	assert.Contains(t, result.Interpretation.Concerns, "few_reports")

	pages, err := c.Pages(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 4, pages[0].Reports)
}

func TestHealth(t *testing.T) {
	server := newCollector(t)
	c := client.New(server.URL)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.NoError(t, c.Healthy(context.Background()))
}

func TestHealthyUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := client.New(url).Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector unreachable")
}
