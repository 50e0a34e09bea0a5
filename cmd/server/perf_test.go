package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/internal/logging"
)

type countFunc func(context.Context) (int, error)

func (f countFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

type fixedSize int

func (n fixedSize) Subscribers() int { return int(n) }
func (n fixedSize) Pending() int     { return int(n) }

func fieldMap(fields []logging.Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

func TestCollectorStatsFields(t *testing.T) {
	stats := collectorStats{
		reports:   countFunc(func(context.Context) (int, error) { return 42, nil }),
		live:      fixedSize(3),
		forwarder: fixedSize(7),
	}
	got := fieldMap(stats.fields(context.Background()))
	assert.Equal(t, map[string]interface{}{
		"reports_stored":   42,
		"live_subscribers": 3,
		"forward_pending":  7,
	}, got)
}

func TestCollectorStatsWithoutForwarder(t *testing.T) {
	stats := collectorStats{
		reports: countFunc(func(context.Context) (int, error) { return 0, errors.New("database is locked") }),
		live:    fixedSize(0),
	}
	got := fieldMap(stats.fields(context.Background()))
	assert.NotContains(t, got, "forward_pending")
	assert.NotContains(t, got, "reports_stored")
	assert.Contains(t, got, "reports_stored_error")
	assert.Equal(t, 0, got["live_subscribers"])
}

func TestRunStatsLoggerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	stats := collectorStats{reports: countFunc(func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return calls, nil
	})}

	done := make(chan error, 1)
	go func() { done <- runStatsLogger(ctx, time.Millisecond, stats) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stats logger did not stop")
	}
	assert.GreaterOrEqual(t, calls, 2)
}

func TestRunPprofListenFailureIsNotFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.NoError(t, runPprof(context.Background(), ln.Addr().String()))
}
