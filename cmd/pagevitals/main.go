package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	check "github.com/saveenergy/pagevitals/cmd/check"
	mcpcmd "github.com/saveenergy/pagevitals/cmd/mcp"
	replay "github.com/saveenergy/pagevitals/cmd/replay"
	server "github.com/saveenergy/pagevitals/cmd/server"
	watch "github.com/saveenergy/pagevitals/cmd/watch"
)

var version = "dev"

var (
	runServer = server.Run
	runReplay = replay.Run
	runWatch  = watch.Run
	runCheck  = check.Run
	runMCP    = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

// run dispatches to a subcommand and returns its exit code. Subcommands parse
// their own flags.
func run(args []string, version string) int {
	code := 0
	delegate := func(use, short string, fn func([]string, string) int) *cobra.Command {
		return &cobra.Command{
			Use:                use,
			Short:              short,
			DisableFlagParsing: true,
			RunE: func(_ *cobra.Command, args []string) error {
				code = fn(args, version)
				return nil
			},
		}
	}

	root := &cobra.Command{
		Use:           "pagevitals",
		Short:         "Collect, store and grade Core Web Vitals field data",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			code = runServer(nil, version)
			return nil
		},
	}
	root.SetVersionTemplate("pagevitals {{.Version}}\n")
	root.AddCommand(
		delegate("server [flags]", "Run the collector (default when no command provided)", runServer),
		delegate("replay [flags] <trace.json|->", "Replay a recorded entry trace through an aggregator", runReplay),
		delegate("watch [flags]", "Report vitals from a Chrome DevTools target", runWatch),
		delegate("check [flags] <page-url>", "Grade a page's field vitals", runCheck),
		&cobra.Command{
			Use:   "mcp",
			Short: "Run as MCP server (stdio transport, for AI agents)",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				code = runMCP(version)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pagevitals %s\n", version)
			},
		},
	)

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pagevitals: %v\n\n", err)
		_ = root.Usage()
		return 2
	}
	return code
}
