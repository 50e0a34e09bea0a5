// Package check implements the `pagevitals check` subcommand: fetch a page's
// field summary from a collector and print its grade, p75 values, and concerns.
package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/saveenergy/pagevitals/pkg/client"
	"github.com/saveenergy/pagevitals/pkg/diagnostic"
	"github.com/saveenergy/pagevitals/pkg/types"
)

var (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const (
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 300
)

// CheckResult is the structured output of pagevitals check.
type CheckResult struct {
	SchemaVersion  string                     `json:"schema_version"`
	ServerURL      string                     `json:"server_url"`
	PageURL        string                     `json:"page_url"`
	Reports        int                        `json:"reports"`
	P75            map[string]float64         `json:"p75"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
	DurationMs     int64                      `json:"duration_ms"`
}

var (
	stdout     io.Writer = os.Stdout
	stderr     io.Writer = os.Stderr
	runCheckFn           = runCheck
)

func Run(args []string, version string) int {
	flagSet := pflag.NewFlagSet("pagevitals check", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = printUsage

	var (
		serverURL string
		jsonOut   bool
		noColor   bool
		timeout   int
		window    time.Duration
	)
	flagSet.StringVarP(&serverURL, "server-url", "S", "http://localhost:8080", "Collector URL")
	flagSet.BoolVar(&jsonOut, "json", false, "Output as JSON")
	flagSet.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flagSet.IntVar(&timeout, "timeout", 10, "Overall timeout in seconds")
	flagSet.DurationVar(&window, "window", 0, "Summary window (collector default when zero)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSuccess
		}
		return exitUsage
	}

	if timeout < minTimeoutSeconds || timeout > maxTimeoutSeconds {
		fmt.Fprintf(stderr, "pagevitals check: timeout must be between %d and %d seconds\n", minTimeoutSeconds, maxTimeoutSeconds)
		return exitUsage
	}
	if !isValidURL(serverURL) {
		fmt.Fprintf(stderr, "pagevitals check: invalid server URL: %q\n", serverURL)
		return exitUsage
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		fmt.Fprintln(stderr, "pagevitals check: exactly one page URL is required")
		return exitUsage
	}
	pageURL := rest[0]
	if !isValidURL(pageURL) {
		fmt.Fprintf(stderr, "pagevitals check: invalid page URL: %q\n", pageURL)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	result, err := runCheckFn(ctx, serverURL, pageURL, window)
	if err != nil {
		if jsonOut {
			errResp := map[string]interface{}{
				"schema_version": "1.0",
				"error":          true,
				"code":           "check_failed",
				"message":        err.Error(),
			}
			if encErr := json.NewEncoder(stdout).Encode(errResp); encErr != nil {
				fmt.Fprintf(stderr, "pagevitals check: json encode error: %v\n", encErr)
			}
		} else {
			fmt.Fprintf(stderr, "pagevitals check: error: %v\n", err)
		}
		return exitFailure
	}

	if jsonOut {
		if encErr := json.NewEncoder(stdout).Encode(result); encErr != nil {
			fmt.Fprintf(stderr, "pagevitals check: json encode error: %v\n", encErr)
			return exitFailure
		}
	} else {
		color.NoColor = noColor || !isTerminal(stdout)
		printHuman(stdout, result)
	}

	// Exit 1 if grade is D or F (degraded)
	if result.Interpretation != nil && (result.Interpretation.Grade == "D" || result.Interpretation.Grade == "F") {
		return exitFailure
	}
	return exitSuccess
}

func runCheck(ctx context.Context, serverURL, pageURL string, window time.Duration) (*CheckResult, error) {
	r, err := client.New(serverURL).Diagnose(ctx, pageURL, window)
	if err != nil {
		return nil, err
	}
	p75 := make(map[string]float64, len(r.Summary.Metrics))
	for name, m := range r.Summary.Metrics {
		if types.IsCoreVital(name) {
			p75[name] = m.P75
		}
	}
	return &CheckResult{
		SchemaVersion:  "1.0",
		ServerURL:      r.ServerURL,
		PageURL:        pageURL,
		Reports:        r.Summary.Reports,
		P75:            p75,
		Interpretation: r.Interpretation,
		DurationMs:     r.DurationMs,
	}, nil
}

func printHuman(w io.Writer, r *CheckResult) {
	if r.Interpretation != nil {
		fmt.Fprintf(w, "Grade: %s  %s\n", gradeColor(r.Interpretation.Grade).Sprint(r.Interpretation.Grade), r.Interpretation.Summary)
	}
	fmt.Fprintf(w, "  Page:     %s\n", r.PageURL)
	fmt.Fprintf(w, "  Reports:  %d\n", r.Reports)

	names := make([]string, 0, len(r.P75))
	for name := range r.P75 {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == types.MetricCLS {
			fmt.Fprintf(w, "  %-4s p75: %.3f\n", name, r.P75[name])
			continue
		}
		fmt.Fprintf(w, "  %-4s p75: %.0f ms\n", name, r.P75[name])
	}
	if r.Interpretation != nil && len(r.Interpretation.Concerns) > 0 {
		fmt.Fprintf(w, "  Concerns: %s\n", color.YellowString(strings.Join(r.Interpretation.Concerns, ", ")))
	}
}

func gradeColor(grade string) *color.Color {
	switch grade {
	case "A", "B":
		return color.New(color.FgGreen, color.Bold)
	case "C":
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printUsage() {
	fmt.Fprintf(stdout, `Usage: pagevitals check [flags] <page-url>

Fetch a page's field vitals from a collector and grade them.

Flags:
  -h, --help              Show help
  -S, --server-url string Collector URL (default: http://localhost:8080)
  --window duration       Summary window, e.g. 24h (default: collector setting)
  --json                  Output as JSON
  --no-color              Disable colored output
  --timeout int           Overall timeout in seconds (default: 10)

Exit codes:
  0   Passing (grade A-C)
  1   Degraded (grade D-F) or error
  2   Usage error

Examples:
  pagevitals check https://example.com/
  pagevitals check -S https://vitals.example.com --window 168h https://example.com/
  pagevitals check --json https://example.com/
`)
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Port() != "" {
		if _, err := net.LookupPort("tcp", u.Port()); err != nil {
			return false
		}
	}
	return u.Host != ""
}
