package check

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/pkg/diagnostic"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	origOut, origErr, origRun := stdout, stderr, runCheckFn
	t.Cleanup(func() {
		stdout, stderr, runCheckFn = origOut, origErr, origRun
	})
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	stdout, stderr = out, errOut
	return out, errOut
}

func TestIsValidURLRejectsInvalidPorts(t *testing.T) {
	assert.False(t, isValidURL("https://example.com:99999"))
	assert.True(t, isValidURL("https://example.com:443"))
	assert.False(t, isValidURL("ftp://example.com"))
}

func TestCheckUsageErrors(t *testing.T) {
	captureOutput(t)
	assert.Equal(t, exitUsage, Run([]string{"--server-url", "https://example.com:99999", "https://example.com/"}, "test"))
	assert.Equal(t, exitUsage, Run([]string{}, "test"))
	assert.Equal(t, exitUsage, Run([]string{"--timeout", "0", "https://example.com/"}, "test"))
	assert.Equal(t, exitUsage, Run([]string{"not a url"}, "test"))
}

func TestCheckJSONOutput(t *testing.T) {
	out, _ := captureOutput(t)
	var gotWindow time.Duration
	runCheckFn = func(_ context.Context, serverURL, pageURL string, window time.Duration) (*CheckResult, error) {
		gotWindow = window
		return &CheckResult{
			SchemaVersion: "1.0",
			ServerURL:     serverURL,
			PageURL:       pageURL,
			Reports:       40,
			P75:           map[string]float64{"LCP": 1800},
			DurationMs:    1234,
			Interpretation: &diagnostic.Interpretation{
				Grade:   "A",
				Summary: "ok",
			},
		}, nil
	}

	code := Run([]string{"--json", "--window", "48h", "-S", "https://vitals.example.com", "https://example.com/"}, "test")
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, 48*time.Hour, gotWindow)

	var res CheckResult
	require.NoError(t, json.NewDecoder(out).Decode(&res))
	assert.Equal(t, int64(1234), res.DurationMs)
	assert.Equal(t, "https://example.com/", res.PageURL)
	assert.Equal(t, 1800.0, res.P75["LCP"])
}

func TestCheckDegradedGradeExitsOne(t *testing.T) {
	out, _ := captureOutput(t)
	runCheckFn = func(_ context.Context, _, pageURL string, _ time.Duration) (*CheckResult, error) {
		return &CheckResult{
			PageURL:        pageURL,
			P75:            map[string]float64{"CLS": 0.4, "LCP": 6000},
			Interpretation: &diagnostic.Interpretation{Grade: "F", Summary: "Very poor", Concerns: []string{"slow_lcp"}},
		}, nil
	}

	code := Run([]string{"https://example.com/"}, "test")
	assert.Equal(t, exitFailure, code)
	text := out.String()
	assert.Contains(t, text, "Grade: F")
	assert.Contains(t, text, "CLS  p75: 0.400")
	assert.Contains(t, text, "LCP  p75: 6000 ms")
	assert.Contains(t, text, "Concerns: slow_lcp")
}

func TestCheckErrorJSON(t *testing.T) {
	out, _ := captureOutput(t)
	runCheckFn = func(context.Context, string, string, time.Duration) (*CheckResult, error) {
		return nil, errors.New("collector unreachable")
	}

	code := Run([]string{"--json", "https://example.com/"}, "test")
	assert.Equal(t, exitFailure, code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(out).Decode(&body))
	assert.Equal(t, "check_failed", body["code"])
	assert.Equal(t, "collector unreachable", body["message"])
}
