// Package replay implements the `pagevitals replay` subcommand: feed a
// recorded performance entry trace through an aggregator and deliver the
// resulting reports.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/saveenergy/pagevitals/internal/reporter"
	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	fsys             = afero.NewOsFs()
)

// Result describes one replay.
type Result struct {
	Batches int           `json:"batches"`
	Entries int           `json:"entries"`
	Summary types.Summary `json:"summary"`
}

func Run(args []string, version string) int {
	flagSet := pflag.NewFlagSet("pagevitals replay", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	var (
		flags   reporter.Flags
		jsonOut bool
	)
	flags.Register(flagSet)
	flagSet.BoolVar(&jsonOut, "json", false, "Print the replay result as JSON")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pagevitals replay [flags] <trace.json|->\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return 2
	}
	if flags.UserAgent == "" {
		flags.UserAgent = "pagevitals-replay/" + version
	}

	data, err := readTrace(flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "pagevitals replay: %v\n", err)
		return 1
	}

	result, err := replay(data, &flags)
	if err != nil {
		fmt.Fprintf(stderr, "pagevitals replay: %v\n", err)
		if reporter.IsUsageError(err) {
			return 2
		}
		return 1
	}

	if jsonOut {
		if err := json.NewEncoder(stdout).Encode(result); err != nil {
			fmt.Fprintf(stderr, "pagevitals replay: json encode error: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stdout, "Replayed %d entries in %d batches\n", result.Entries, result.Batches)
	names := make([]string, 0, len(result.Summary.Vitals))
	for name := range result.Summary.Vitals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := result.Summary.Vitals[name]
		fmt.Fprintf(stdout, "  %-4s %.2f (%s)\n", name, v.Value, v.Rating)
	}
	return 0
}

func readTrace(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return afero.ReadFile(fsys, name)
}

// replay feeds every batch of the trace to a fresh aggregator, then destroys
// it so the remaining buffer is delivered. Without --url the page URL is
// taken from the trace's navigation entry.
func replay(data []byte, flags *reporter.Flags) (*Result, error) {
	batches, err := vitals.DecodeTrace(data)
	if err != nil {
		return nil, err
	}
	opts, err := flags.Options(fsys)
	if err != nil {
		return nil, err
	}
	if opts.PageURL == "" {
		opts.PageURL = navigationURL(batches)
	}
	if err := flags.CheckPageURL(opts); err != nil {
		return nil, err
	}
	transport, closeTransport, err := flags.Transport(fsys, opts)
	if err != nil {
		return nil, err
	}

	agg, err := vitals.New(opts, transport, vitals.WithLogger(flags.Logger()))
	if err != nil {
		_ = closeTransport()
		return nil, err
	}

	result := &Result{Batches: len(batches)}
	for _, b := range batches {
		result.Entries += b.Len()
		agg.Observe(b)
	}
	result.Summary = agg.Summary()

	agg.Destroy()
	agg.Wait()
	if err := closeTransport(); err != nil {
		return result, fmt.Errorf("close transport: %w", err)
	}
	return result, nil
}

// navigationURL returns the document URL of the first navigation entry.
func navigationURL(batches []vitals.Batch) string {
	for _, b := range batches {
		for _, nav := range b.Navigation {
			if nav.Name != "" {
				return nav.Name
			}
		}
	}
	return ""
}
