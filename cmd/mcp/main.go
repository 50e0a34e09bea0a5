// Package mcp implements the `pagevitals mcp` subcommand, an MCP (Model
// Context Protocol) server over stdio transport. Agents can spawn this process
// and query a collector's field vitals directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/pagevitals/pkg/client"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

const (
	defaultServerURL = "http://localhost:8080"
	toolTimeout      = 10 * time.Second
)

// Run starts the MCP stdio server. Blocks until stdin closes or signal received.
func Run(version string) int {
	s := server.NewMCPServer(
		"pagevitals",
		version,
		server.WithToolCapabilities(true),
	)

	handlers := map[string]server.ToolHandlerFunc{
		"page_summary": handlePageSummary,
		"get_report":   handleGetReport,
		"list_pages":   handleListPages,
		"rate_metric":  handleRateMetric,
	}
	for _, tool := range ToolDefinitions() {
		s.AddTool(tool, handlers[tool.Name])
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "pagevitals mcp: error: %v\n", err)
		return 1
	}
	return 0
}

// ToolDefinitions lists the tools the server exposes.
func ToolDefinitions() []mcp.Tool {
	serverURL := mcp.WithString("server_url",
		mcp.Description("Collector URL (default: http://localhost:8080)"),
	)
	return []mcp.Tool{
		mcp.NewTool("page_summary",
			mcp.WithDescription("Field Core Web Vitals of one page: p75 per metric, rating distribution, grade (A-F), pass/fail and concerns. Use this to answer 'how fast is this page for real users?'."),
			serverURL,
			mcp.WithString("url", mcp.Required(), mcp.Description("Page URL as reported by the aggregator")),
			mcp.WithString("window", mcp.Description("Lookback window as a Go duration, e.g. 24h or 168h (default: collector setting)")),
		),
		mcp.NewTool("get_report",
			mcp.WithDescription("Fetch one stored report by id, including every metric sample it carried."),
			serverURL,
			mcp.WithString("id", mcp.Required(), mcp.Description("Report id (UUID) returned at ingest")),
		),
		mcp.NewTool("list_pages",
			mcp.WithDescription("List page URLs that reported recently, most recent first, with report counts."),
			serverURL,
			mcp.WithString("window", mcp.Description("Lookback window as a Go duration (default: collector setting)")),
			mcp.WithNumber("limit", mcp.Description("Maximum pages to return, 1-500 (default: 50)")),
		),
		mcp.NewTool("rate_metric",
			mcp.WithDescription("Rate a single vital value as good, needs-improvement or poor using the default thresholds. Does not contact a collector."),
			mcp.WithString("metric", mcp.Required(), mcp.Description("LCP, FID, INP, CLS, FCP or TTI")),
			mcp.WithNumber("value", mcp.Required(), mcp.Description("Value in milliseconds (CLS is unitless)")),
		),
	}
}

// --- Tool Handlers ---

func handlePageSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	window, err := windowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	result, err := clientFromRequest(defaultServerURL, req).Diagnose(callCtx, pageURL, window)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Page summary failed: %v", err)), nil
	}
	return jsonResult(result)
}

func handleGetReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	report, err := clientFromRequest(defaultServerURL, req).GetReport(callCtx, strings.TrimSpace(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Get report failed: %v", err)), nil
	}
	return jsonResult(report)
}

func handleListPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window, err := windowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	callCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	pages, err := clientFromRequest(defaultServerURL, req).Pages(callCtx, window, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("List pages failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"pages": pages})
}

func handleRateMetric(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metric, err := req.RequireString("metric")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireFloat("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	metric = strings.ToUpper(strings.TrimSpace(metric))
	thresholds := vitals.DefaultThresholds()
	th, ok := thresholds[metric]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown metric %q", metric)), nil
	}
	return jsonResult(map[string]interface{}{
		"metric":    metric,
		"value":     value,
		"rating":    th.Rate(value),
		"threshold": th,
	})
}

func clientFromRequest(fallbackURL string, req mcp.CallToolRequest) *client.Client {
	serverURL := strings.TrimSpace(req.GetString("server_url", ""))
	if serverURL == "" {
		serverURL = fallbackURL
	}
	return client.New(serverURL)
}

func windowArg(req mcp.CallToolRequest) (time.Duration, error) {
	raw := strings.TrimSpace(req.GetString("window", ""))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return d, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
