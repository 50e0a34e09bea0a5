package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/internal/config"
	"github.com/saveenergy/pagevitals/pkg/client"
	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

func TestApplyServerFlagOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Port = "9000"
	cfg.DataDir = "/env/data"

	fs, fv := buildServerFlagSet(cfg)
	require.NoError(t, fs.Parse([]string{
		"--port=9100",
		"--summary-window=168h",
		"--allowed-origins=https://a.example.com, https://b.example.com",
		"--pprof=true",
	}))
	require.NoError(t, applyServerFlagOverrides(cfg, fs, fv))

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "/env/data", cfg.DataDir, "unset flags keep the environment value")
	assert.Equal(t, 168*time.Hour, cfg.SummaryWindow)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.PprofEnabled)
}

func TestApplyServerFlagOverridesInvalidDuration(t *testing.T) {
	cfg := config.DefaultConfig()
	fs, fv := buildServerFlagSet(cfg)
	require.NoError(t, fs.Parse([]string{"--retention=not-a-duration"}))
	assert.Error(t, applyServerFlagOverrides(cfg, fs, fv))
}

func TestLoadThresholds(t *testing.T) {
	def, err := loadThresholds("")
	require.NoError(t, err)
	assert.Equal(t, vitals.DefaultThresholds(), def)

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  LCP:\n    good: 2000\n    needsImprovement: 3500\n"), 0o600))
	th, err := loadThresholds(path)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, th[types.MetricLCP].Good)
	assert.Equal(t, 100.0, th[types.MetricFID].Good)

	_, err = loadThresholds(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)
}

func TestServeLifecycle(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.DataDir = t.TempDir()
	cfg.PprofEnabled = true
	cfg.PprofAddress = "127.0.0.1:" + freePort(t)
	cfg.PerfStatsInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, vitals.DefaultThresholds(), "test") }()

	c := client.New("http://" + cfg.ListenAddress())
	require.Eventually(t, func() bool {
		return c.Healthy(context.Background()) == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.PprofAddress + "/debug/pprof/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	now := time.Now().UnixMilli()
	_, err := c.Submit(context.Background(), &types.Report{
		URL: "https://example.com/", UserAgent: "test", Timestamp: now,
		Metrics: []types.MetricSample{{Name: types.MetricCLS, Value: 0.05, Timestamp: now}},
	})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	_, err = http.Get("http://" + cfg.ListenAddress() + "/health")
	assert.Error(t, err)
	_, err = http.Get("http://" + cfg.PprofAddress + "/debug/pprof/")
	assert.Error(t, err)
	_, err = os.Stat(cfg.DatabasePath())
	assert.NoError(t, err)
}
