package vitals_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := vitals.DefaultOptions()
	assert.True(t, opts.EnableCoreWebVitals)
	assert.Equal(t, 100, opts.BufferSize)
	assert.Equal(t, 30*time.Second, opts.ReportInterval)
	assert.Equal(t, "/api/performance", opts.ReportingEndpoint)
	assert.False(t, opts.DebugMode)
	require.NoError(t, opts.Validate())
}

func TestLoadOptions(t *testing.T) {
	t.Parallel()

	doc := `
bufferSize: 25
reportInterval: 5000
debugMode: true
url: https://example.com/landing
thresholds:
  LCP:
    good: 2000
    needsImprovement: 3500
`
	opts, err := vitals.LoadOptions(strings.NewReader(doc), vitals.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 25, opts.BufferSize)
	assert.Equal(t, 5*time.Second, opts.ReportInterval)
	assert.True(t, opts.DebugMode)
	assert.True(t, opts.EnableCoreWebVitals)
	assert.Equal(t, "https://example.com/landing", opts.PageURL)
	assert.Equal(t, vitals.Threshold{Good: 2000, NeedsImprovement: 3500}, opts.Thresholds[types.MetricLCP])
	assert.Equal(t, vitals.DefaultThresholds()[types.MetricCLS], opts.Thresholds[types.MetricCLS])
}

func TestLoadOptionsPartialThreshold(t *testing.T) {
	t.Parallel()

	doc := "thresholds:\n  LCP:\n    good: 2000\n"
	opts, err := vitals.LoadOptions(strings.NewReader(doc), vitals.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, vitals.Threshold{Good: 2000, NeedsImprovement: 4000}, opts.Thresholds[types.MetricLCP])
	assert.Equal(t, types.RatingNeedsImprovement, opts.Thresholds.Rate(types.MetricLCP, 2100))
}

func TestLoadOptionsRejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown key":     "bufferSiz: 10\n",
		"zero buffer":     "bufferSize: 0\n",
		"bad threshold":   "thresholds:\n  CLS:\n    good: 0.5\n    needsImprovement: 0.1\n",
		"malformed yaml":  "bufferSize: [\n",
		"negative period": "reportInterval: -1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := vitals.LoadOptions(strings.NewReader(doc), vitals.DefaultOptions())
			require.Error(t, err)
		})
	}
}

func TestLoadOptionsEmptyDocument(t *testing.T) {
	t.Parallel()

	opts, err := vitals.LoadOptions(strings.NewReader(""), vitals.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, vitals.DefaultOptions().BufferSize, opts.BufferSize)
}
