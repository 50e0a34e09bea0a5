package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/saveenergy/pagevitals/internal/config"
)

type serverFlagValues struct {
	port             string
	bindAddress      string
	dataDir          string
	allowedOrigins   string
	influxDB         string
	logLevel         string
	logFormat        string
	retentionPeriod  string
	summaryWindow    string
	rateLimitPerIP   int
	maxStoredReports int
	pprofEnabled     bool
	thresholdsFile   string
}

// serverOverrides carries only the flags the user actually set.
type serverOverrides struct {
	Port             null.String
	BindAddress      null.String
	DataDir          null.String
	AllowedOrigins   null.String
	InfluxDB         null.String
	LogLevel         null.String
	LogFormat        null.String
	RetentionPeriod  null.String
	SummaryWindow    null.String
	RateLimitPerIP   null.Int
	MaxStoredReports null.Int
	PprofEnabled     null.Bool
}

func buildServerFlagSet(cfg *config.Config) (*pflag.FlagSet, *serverFlagValues) {
	fv := &serverFlagValues{}
	fs := pflag.NewFlagSet("pagevitals server", pflag.ContinueOnError)
	fs.StringVar(&fv.port, "port", cfg.Port, "HTTP port")
	fs.StringVar(&fv.bindAddress, "bind", cfg.BindAddress, "Bind address")
	fs.StringVar(&fv.dataDir, "data-dir", cfg.DataDir, "Directory holding the report database")
	fs.StringVar(&fv.allowedOrigins, "allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "Comma-separated CORS and WebSocket origins")
	fs.StringVar(&fv.influxDB, "influxdb", cfg.InfluxDB, "InfluxDB URL to forward samples to, e.g. http://localhost:8086/vitals")
	fs.StringVar(&fv.logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&fv.logFormat, "log-format", cfg.LogFormat, "text or json")
	fs.StringVar(&fv.retentionPeriod, "retention", cfg.RetentionPeriod.String(), "How long reports are kept")
	fs.StringVar(&fv.summaryWindow, "summary-window", cfg.SummaryWindow.String(), "Default page summary window")
	fs.IntVar(&fv.rateLimitPerIP, "rate-limit-per-ip", cfg.RateLimitPerIP, "Requests per minute per client IP")
	fs.IntVar(&fv.maxStoredReports, "max-reports", cfg.MaxStoredReports, "Maximum stored reports")
	fs.BoolVar(&fv.pprofEnabled, "pprof", cfg.PprofEnabled, "Serve pprof on the pprof address")
	fs.StringVar(&fv.thresholdsFile, "thresholds", "", "YAML file overriding rating thresholds")
	return fs, fv
}

func collectOverrides(fs *pflag.FlagSet, fv *serverFlagValues) serverOverrides {
	var o serverOverrides
	str := func(name, value string) null.String {
		return null.NewString(value, fs.Changed(name))
	}
	o.Port = str("port", fv.port)
	o.BindAddress = str("bind", fv.bindAddress)
	o.DataDir = str("data-dir", fv.dataDir)
	o.AllowedOrigins = str("allowed-origins", fv.allowedOrigins)
	o.InfluxDB = str("influxdb", fv.influxDB)
	o.LogLevel = str("log-level", fv.logLevel)
	o.LogFormat = str("log-format", fv.logFormat)
	o.RetentionPeriod = str("retention", fv.retentionPeriod)
	o.SummaryWindow = str("summary-window", fv.summaryWindow)
	o.RateLimitPerIP = null.NewInt(int64(fv.rateLimitPerIP), fs.Changed("rate-limit-per-ip"))
	o.MaxStoredReports = null.NewInt(int64(fv.maxStoredReports), fs.Changed("max-reports"))
	o.PprofEnabled = null.NewBool(fv.pprofEnabled, fs.Changed("pprof"))
	return o
}

func applyServerFlagOverrides(cfg *config.Config, fs *pflag.FlagSet, fv *serverFlagValues) error {
	o := collectOverrides(fs, fv)

	if o.Port.Valid {
		cfg.Port = o.Port.String
	}
	if o.BindAddress.Valid {
		cfg.BindAddress = o.BindAddress.String
	}
	if o.DataDir.Valid {
		cfg.DataDir = o.DataDir.String
	}
	if o.AllowedOrigins.Valid {
		cfg.AllowedOrigins = splitList(o.AllowedOrigins.String)
	}
	if o.InfluxDB.Valid {
		cfg.InfluxDB = o.InfluxDB.String
	}
	if o.LogLevel.Valid {
		cfg.LogLevel = o.LogLevel.String
	}
	if o.LogFormat.Valid {
		cfg.LogFormat = o.LogFormat.String
	}
	if o.RetentionPeriod.Valid {
		d, err := time.ParseDuration(o.RetentionPeriod.String)
		if err != nil {
			return fmt.Errorf("invalid --retention: %w", err)
		}
		cfg.RetentionPeriod = d
	}
	if o.SummaryWindow.Valid {
		d, err := time.ParseDuration(o.SummaryWindow.String)
		if err != nil {
			return fmt.Errorf("invalid --summary-window: %w", err)
		}
		cfg.SummaryWindow = d
	}
	if o.RateLimitPerIP.Valid {
		cfg.RateLimitPerIP = int(o.RateLimitPerIP.Int64)
	}
	if o.MaxStoredReports.Valid {
		cfg.MaxStoredReports = int(o.MaxStoredReports.Int64)
	}
	if o.PprofEnabled.Valid {
		cfg.PprofEnabled = o.PprofEnabled.Bool
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
