// Package reporter builds the aggregator options and transport shared by the
// replay and watch commands.
package reporter

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/saveenergy/pagevitals/pkg/vitals"
)

var (
	ErrNoDestination = errors.New("one of --endpoint or --out is required")
	// ErrNoPageURL means reports would reach the collector without a page
	// URL, which it rejects.
	ErrNoPageURL = errors.New("--url is required with --endpoint when the page URL cannot be derived")
)

// IsUsageError reports whether err comes from a missing or conflicting flag.
func IsUsageError(err error) bool {
	return errors.Is(err, ErrNoDestination) || errors.Is(err, ErrNoPageURL)
}

// Flags are the reporting flags common to every command that runs an
// aggregator.
type Flags struct {
	Endpoint   string
	Out        string
	ConfigFile string
	PageURL    string
	UserAgent  string
	Gzip       bool
	Debug      bool
}

// Register adds the reporting flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Endpoint, "endpoint", "", "Collector base URL or full reporting endpoint")
	fs.StringVar(&f.Out, "out", "", "Spool reports to this file as JSON lines (.gz to compress)")
	fs.StringVar(&f.ConfigFile, "config", "", "YAML aggregator options")
	fs.StringVar(&f.PageURL, "url", "", "Page URL copied into every report")
	fs.StringVar(&f.UserAgent, "user-agent", "", "User agent copied into every report")
	fs.BoolVar(&f.Gzip, "gzip", false, "Gzip report bodies sent to --endpoint")
	fs.BoolVar(&f.Debug, "debug", false, "Log aggregator activity")
}

// Options loads the config file, if any, and applies the flags on top.
func (f *Flags) Options(fs afero.Fs) (vitals.Options, error) {
	opts := vitals.DefaultOptions()
	if f.ConfigFile != "" {
		file, err := fs.Open(f.ConfigFile)
		if err != nil {
			return opts, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if opts, err = vitals.LoadOptions(file, opts); err != nil {
			return opts, err
		}
	}
	if f.PageURL != "" {
		opts.PageURL = f.PageURL
	}
	if f.UserAgent != "" {
		opts.UserAgent = f.UserAgent
	}
	if f.Debug {
		opts.DebugMode = true
	}
	return opts, nil
}

// CheckPageURL fails when reports are posted to a collector without a page
// URL. Spooled reports may leave it empty.
func (f *Flags) CheckPageURL(opts vitals.Options) error {
	if f.Endpoint != "" && strings.TrimSpace(opts.PageURL) == "" {
		return ErrNoPageURL
	}
	return nil
}

// Transport is a vitals.Transport that must be closed after the aggregator
// is destroyed.
type Transport interface {
	vitals.Transport
	io.Closer
}

// Transport opens the destination. --endpoint and --out may be combined.
func (f *Flags) Transport(fs afero.Fs, opts vitals.Options) (vitals.Transport, func() error, error) {
	var transports []Transport
	if f.Endpoint != "" {
		endpoint, err := endpointURL(f.Endpoint, opts.ReportingEndpoint)
		if err != nil {
			return nil, nil, err
		}
		transports = append(transports, vitals.NewHTTPTransport(endpoint, vitals.WithGzip(f.Gzip)))
	}
	if f.Out != "" {
		spool, err := vitals.NewSpoolTransport(fs, f.Out)
		if err != nil {
			return nil, nil, err
		}
		transports = append(transports, spool)
	}

	closeAll := func() error {
		var errs []error
		for _, t := range transports {
			errs = append(errs, t.Close())
		}
		return errors.Join(errs...)
	}

	switch len(transports) {
	case 0:
		return nil, nil, ErrNoDestination
	case 1:
		return transports[0], closeAll, nil
	}
	multi := make(vitals.MultiTransport, len(transports))
	for i, t := range transports {
		multi[i] = t
	}
	return multi, closeAll, nil
}

// endpointURL uses raw as is when it names a path, otherwise resolves the
// reporting endpoint against it.
func endpointURL(raw, reportingEndpoint string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("endpoint must use http or https, got %q", raw)
	}
	if strings.Trim(u.Path, "/") != "" {
		return u.String(), nil
	}
	return vitals.ResolveEndpoint(raw, reportingEndpoint)
}

// Logger returns a stderr logger at debug level when --debug is set.
func (f *Flags) Logger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if f.Debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
