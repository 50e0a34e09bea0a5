package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/internal/ingest"
	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/internal/store"
	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

const trace = `{"entries": [
  {"entryType": "paint", "name": "first-contentful-paint", "startTime": 655.2},
  {"entryType": "largest-contentful-paint", "startTime": 2600, "size": 52000, "id": "hero"},
  {"entryType": "layout-shift", "startTime": 800, "value": 0.031, "hadRecentInput": false},
  {"entryType": "event", "name": "click", "interactionId": 7, "startTime": 3000, "duration": 48}
]}`

func setup(t *testing.T) (afero.Fs, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	origFS, origIn, origOut, origErr := fsys, stdin, stdout, stderr
	t.Cleanup(func() { fsys, stdin, stdout, stderr = origFS, origIn, origOut, origErr })

	fsys = afero.NewMemMapFs()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	stdout, stderr = out, errOut
	require.NoError(t, afero.WriteFile(fsys, "trace.json", []byte(trace), 0o644))
	return fsys, out, errOut
}

func TestReplayToSpool(t *testing.T) {
	fs, out, _ := setup(t)

	code := Run([]string{"--out", "reports.jsonl", "--url", "https://example.com/", "--json", "trace.json"}, "1.0.0")
	require.Equal(t, 0, code)

	var result Result
	require.NoError(t, json.NewDecoder(out).Decode(&result))
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, 4, result.Entries)
	assert.Equal(t, types.RatingNeedsImprovement, result.Summary.Vitals[types.MetricLCP].Rating)

	reports, err := vitals.ReadSpool(fs, "reports.jsonl")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "https://example.com/", reports[0].URL)
	assert.Equal(t, "pagevitals-replay/1.0.0", reports[0].UserAgent)

	names := map[string]bool{}
	for _, m := range reports[0].Metrics {
		names[m.Name] = true
	}
	assert.True(t, names[types.MetricLCP])
	assert.True(t, names[types.MetricCLS])
	assert.True(t, names[types.MetricINP])
	assert.True(t, names[types.MetricFCP])
}

func TestReplayFromStdinToEndpoint(t *testing.T) {
	_, out, _ := setup(t)
	stdin = strings.NewReader(trace)

	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+" "+string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	code := Run([]string{"--endpoint", srv.URL, "--url", "https://example.com/", "-"}, "test")
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Replayed 4 entries in 1 batches")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.True(t, strings.HasPrefix(bodies[0], vitals.DefaultReportingEndpoint+" {"))
}

func TestReplayUsageErrors(t *testing.T) {
	_, _, errOut := setup(t)

	assert.Equal(t, 2, Run([]string{}, "test"))
	assert.Equal(t, 2, Run([]string{"trace.json"}, "test"), "no destination")
	assert.Contains(t, errOut.String(), "--endpoint or --out")
	assert.Equal(t, 1, Run([]string{"--out", "x.jsonl", "missing.json"}, "test"))

	require.NoError(t, afero.WriteFile(fsys, "bad.json", []byte(`{"nope": 1}`), 0o644))
	assert.Equal(t, 1, Run([]string{"--out", "x.jsonl", "bad.json"}, "test"))
}

const navigationTrace = `[
  {"entryType": "navigation", "name": "https://example.com/pricing", "type": "navigate", "startTime": 0, "loadEventEnd": 1900},
  {"entryType": "paint", "name": "first-contentful-paint", "startTime": 700},
  {"entryType": "largest-contentful-paint", "startTime": 1400}
]`

func TestReplayToCollectorTakesURLFromNavigation(t *testing.T) {
	_, out, errOut := setup(t)
	require.NoError(t, afero.WriteFile(fsys, "nav.json", []byte(navigationTrace), 0o644))

	s, err := store.New(filepath.Join(t.TempDir(), "vitals.db"), 0, 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	h := ingest.NewHandler(s)
	h.SetLogger(logging.Discard())
	srv := httptest.NewServer(http.HandlerFunc(h.Ingest))
	defer srv.Close()

	code := Run([]string{"--endpoint", srv.URL, "nav.json"}, "test")
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Replayed 3 entries")

	pages, err := s.Pages(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "https://example.com/pricing", pages[0].URL)
	assert.Equal(t, 1, pages[0].Reports)
}

func TestReplayToCollectorWithoutPageURL(t *testing.T) {
	_, _, errOut := setup(t)

	var (
		mu       sync.Mutex
		requests int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	assert.Equal(t, 2, Run([]string{"--endpoint", srv.URL, "trace.json"}, "test"))
	assert.Contains(t, errOut.String(), "--url is required")

	// Spooled reports do not need a page URL.
	assert.Equal(t, 0, Run([]string{"--out", "reports.jsonl", "trace.json"}, "test"))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, requests)
}
