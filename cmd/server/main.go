// Package server implements the `pagevitals server` subcommand: the collector
// that ingests aggregator reports, stores them and serves page summaries.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"

	"github.com/saveenergy/pagevitals/internal/api"
	"github.com/saveenergy/pagevitals/internal/config"
	"github.com/saveenergy/pagevitals/internal/forward"
	"github.com/saveenergy/pagevitals/internal/ingest"
	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/internal/store"
	"github.com/saveenergy/pagevitals/internal/websocket"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

const shutdownTimeout = 30 * time.Second

// Run loads configuration from the environment, applies flag overrides and
// serves until SIGINT or SIGTERM.
func Run(args []string, version string) int {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "pagevitals server: %v\n", err)
		return 1
	}

	fs, fv := buildServerFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := applyServerFlagOverrides(cfg, fs, fv); err != nil {
		fmt.Fprintf(os.Stderr, "pagevitals server: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pagevitals server: invalid configuration: %v\n", err)
		return 1
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagevitals server: %v\n", err)
		return 2
	}
	logging.Init(level, logging.Format(cfg.LogFormat))

	thresholds, err := loadThresholds(fv.thresholdsFile)
	if err != nil {
		logging.Error("Failed to load thresholds", logging.Field{Key: "error", Value: err})
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, thresholds, version); err != nil {
		logging.Error("Server failed", logging.Field{Key: "error", Value: err})
		return 1
	}
	logging.Info("Server stopped")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, thresholds vitals.Thresholds, version string) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}
	reports, err := store.New(cfg.DatabasePath(), cfg.MaxStoredReports, cfg.RetentionPeriod)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer reports.Close()

	wsServer := websocket.NewServer()
	wsServer.SetAllowedOrigins(cfg.AllowedOrigins)
	wsServer.SetPingInterval(cfg.WebSocketPingInterval)
	defer wsServer.Close()

	ingestHandler := ingest.NewHandler(reports)
	ingestHandler.SetLogger(logging.NewLogger("ingest"))
	ingestHandler.SetThresholds(thresholds)
	ingestHandler.SetMaxBodyBytes(cfg.MaxBodyBytes)
	ingestHandler.SetDefaultWindow(cfg.SummaryWindow)
	ingestHandler.SetBroadcaster(wsServer)

	g, gctx := errgroup.WithContext(ctx)
	stats := collectorStats{reports: reports, live: wsServer}

	if cfg.InfluxDB != "" {
		fwd, err := newForwarder(cfg)
		if err != nil {
			return err
		}
		fwd.Init()
		ingestHandler.AddSink(fwd)
		stats.forwarder = fwd
		g.Go(func() error { return fwd.Run(gctx) })
	}

	apiHandler := api.NewHandler(reports)
	apiHandler.SetVersion(version)

	router := api.NewRouter(apiHandler, ingestHandler)
	router.SetRateLimiter(cfg)
	router.SetClientIPResolver(api.NewClientIPResolver(cfg))
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetLiveHandler(wsServer.HandleLive)

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           router.SetupRoutes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	if cfg.PprofEnabled {
		g.Go(func() error { return runPprof(gctx, cfg.PprofAddress) })
	}
	if cfg.PerfStatsInterval > 0 {
		g.Go(func() error { return runStatsLogger(gctx, cfg.PerfStatsInterval, stats) })
	}

	g.Go(func() error {
		logging.Info("Server starting",
			logging.Field{Key: "address", Value: srv.Addr},
			logging.Field{Key: "database", Value: cfg.DatabasePath()},
			logging.Field{Key: "influxdb", Value: cfg.InfluxDB != ""})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Server shutdown error", logging.Field{Key: "error", Value: err})
		}
		return nil
	})

	return g.Wait()
}

func newForwarder(cfg *config.Config) (*forward.Forwarder, error) {
	conf, err := forward.ParseURL(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("influxdb: %w", err)
	}
	if !conf.PushInterval.Valid {
		conf.PushInterval = null.IntFrom(cfg.InfluxPushInterval.Milliseconds())
	}
	fwd, err := forward.New(forward.NewConfig().Apply(conf), logging.NewLogger("forward").FieldLogger())
	if err != nil {
		return nil, fmt.Errorf("influxdb: %w", err)
	}
	return fwd, nil
}

func loadThresholds(path string) (vitals.Thresholds, error) {
	if path == "" {
		return vitals.DefaultThresholds(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open thresholds: %w", err)
	}
	defer f.Close()
	opts, err := vitals.LoadOptions(f, vitals.DefaultOptions())
	if err != nil {
		return nil, err
	}
	return opts.Thresholds, nil
}
