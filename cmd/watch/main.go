// Package watch implements the `pagevitals watch` subcommand: attach to a
// Chrome DevTools target, turn its PerformanceTimeline events into vitals and
// report them until interrupted.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/saveenergy/pagevitals/internal/cdpsource"
	"github.com/saveenergy/pagevitals/internal/reporter"
	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	fsys             = afero.NewOsFs()
)

type watchOptions struct {
	devtools string
	match    string
	navigate string
	flags    reporter.Flags
}

func Run(args []string, version string) int {
	flagSet := pflag.NewFlagSet("pagevitals watch", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	var o watchOptions
	o.flags.Register(flagSet)
	flagSet.StringVar(&o.devtools, "devtools", "http://127.0.0.1:9222", "DevTools address: http://host:port or a ws:// target URL")
	flagSet.StringVar(&o.match, "match", "", "Attach to the first page whose URL contains this")
	flagSet.StringVar(&o.navigate, "navigate", "", "Navigate the target to this URL after attaching")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pagevitals watch [flags]\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flagSet.NArg() != 0 {
		flagSet.Usage()
		return 2
	}
	if o.flags.UserAgent == "" {
		o.flags.UserAgent = "pagevitals-watch/" + version
	}
	if o.flags.PageURL == "" {
		o.flags.PageURL = o.navigate
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := watch(ctx, o)
	if err != nil {
		fmt.Fprintf(stderr, "pagevitals watch: %v\n", err)
		if reporter.IsUsageError(err) {
			return 2
		}
		return 1
	}
	names := make([]string, 0, len(summary.Vitals))
	for name := range summary.Vitals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := summary.Vitals[name]
		fmt.Fprintf(stdout, "%s %.3f %s\n", name, v.Value, v.Rating)
	}
	return 0
}

// watch streams timeline events into an aggregator until ctx is done or the
// target goes away, then destroys the aggregator so the buffer is flushed.
func watch(ctx context.Context, o watchOptions) (types.Summary, error) {
	opts, err := o.flags.Options(fsys)
	if err != nil {
		return types.Summary{}, err
	}
	transport, closeTransport, err := o.flags.Transport(fsys, opts)
	if err != nil {
		return types.Summary{}, err
	}
	defer func() { _ = closeTransport() }()

	logger := o.flags.Logger()
	target, err := cdpsource.FindTarget(ctx, o.devtools, o.match)
	if err != nil {
		return types.Summary{}, err
	}
	if opts.PageURL == "" {
		opts.PageURL = target.PageURL
	}
	if err := o.flags.CheckPageURL(opts); err != nil {
		return types.Summary{}, err
	}
	src, err := cdpsource.Dial(ctx, target.WebSocketURL, logger)
	if err != nil {
		return types.Summary{}, err
	}
	defer src.Close()

	agg, err := vitals.New(opts, transport,
		vitals.WithLogger(logger),
		vitals.WithProbe(vitals.EntryTypeProbe(true, cdpsource.TimelineEventTypes...)))
	if err != nil {
		return types.Summary{}, err
	}

	if err := src.Enable(ctx); err != nil {
		agg.Destroy()
		return types.Summary{}, err
	}
	if o.navigate != "" {
		if err := src.Navigate(ctx, o.navigate); err != nil {
			agg.Destroy()
			return types.Summary{}, err
		}
	}
	logger.WithFields(logrus.Fields{"target": target.WebSocketURL, "page": opts.PageURL, "navigate": o.navigate}).Debug("Watching DevTools target")

	runErr := src.Run(ctx, agg.Observe)
	summary := agg.Summary()
	agg.Destroy()
	agg.Wait()
	return summary, runErr
}
