package server

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"

	"github.com/saveenergy/pagevitals/internal/logging"
)

// collectorStats are the parts of a running collector whose size is worth
// logging next to the runtime numbers. forwarder is nil when InfluxDB
// forwarding is off.
type collectorStats struct {
	reports interface {
		Count(context.Context) (int, error)
	}
	live      interface{ Subscribers() int }
	forwarder interface{ Pending() int }
}

func (s collectorStats) fields(ctx context.Context) []logging.Field {
	var fields []logging.Field
	if s.reports != nil {
		countCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		n, err := s.reports.Count(countCtx)
		cancel()
		if err != nil {
			fields = append(fields, logging.Field{Key: "reports_stored_error", Value: err})
		} else {
			fields = append(fields, logging.Field{Key: "reports_stored", Value: n})
		}
	}
	if s.live != nil {
		fields = append(fields, logging.Field{Key: "live_subscribers", Value: s.live.Subscribers()})
	}
	if s.forwarder != nil {
		fields = append(fields, logging.Field{Key: "forward_pending", Value: s.forwarder.Pending()})
	}
	return fields
}

// runPprof serves net/http/pprof on addr until ctx is done. A listen
// failure is logged and does not stop the collector.
func runPprof(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("pprof server starting", logging.Field{Key: "address", Value: addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logging.Error("pprof server failed", logging.Field{Key: "error", Value: err})
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("pprof server shutdown error", logging.Field{Key: "error", Value: err})
	}
	return nil
}

// runStatsLogger logs heap, GC and collector sizes every interval until
// ctx is done.
func runStatsLogger(ctx context.Context, interval time.Duration, stats collectorStats) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var mem runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		runtime.ReadMemStats(&mem)
		fields := []logging.Field{
			{Key: "goroutines", Value: runtime.NumGoroutine()},
			{Key: "heap_alloc_bytes", Value: mem.HeapAlloc},
			{Key: "gc_count", Value: mem.NumGC},
		}
		logging.Info("collector stats", append(fields, stats.fields(ctx)...)...)
	}
}
