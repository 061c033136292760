//go:build linux

// Package mcp implements `connflurry mcp`, an MCP server over stdio that
// lets agents run a bounded connection flurry and read the report.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/connflurry/internal/config"
	"github.com/saveenergy/connflurry/internal/flurry"
	"github.com/saveenergy/connflurry/internal/logging"
	ferrors "github.com/saveenergy/connflurry/pkg/errors"
)

const (
	maxToolConcurrency = 1024
	maxToolTotal       = 100000
	defaultToolTimeout = 30
	maxToolTimeout     = 120
)

// Run starts the MCP stdio server. Blocks until stdin closes.
func Run(version string) int {
	// stdout carries the protocol; keep logs on stderr and quiet.
	logging.Init(logging.LevelWarn)
	logging.GetLogger().SetLevel(logging.LevelWarn)
	logging.GetLogger().SetOutput(os.Stderr)

	if err := server.ServeStdio(newServer(version)); err != nil {
		fmt.Fprintf(os.Stderr, "connflurry mcp: error: %v\n", err)
		return 1
	}
	return 0
}

func newServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"connflurry",
		version,
		server.WithToolCapabilities(true),
	)
	s.AddTool(flurryTool(), handleConnectionFlurry)
	return s
}

func flurryTool() mcp.Tool {
	return mcp.NewTool("connection_flurry",
		mcp.WithDescription("Open TCP connections to host:port as fast as possible, keeping at most `concurrency` attempts in flight, until `total` connections are established or the budget is spent. Returns established/attempted/failed counts, rate, and connect latency percentiles."),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("Target hostname or IP address"),
		),
		mcp.WithNumber("port",
			mcp.Description("Target TCP port (default: 80)"),
		),
		mcp.WithNumber("concurrency",
			mcp.Description(fmt.Sprintf("Concurrent attempts, 1-%d (default: 1)", maxToolConcurrency)),
		),
		mcp.WithNumber("total",
			mcp.Description(fmt.Sprintf("Established connections to reach, 1-%d (default: 1)", maxToolTotal)),
		),
		mcp.WithNumber("timeout",
			mcp.Description(fmt.Sprintf("Overall limit in seconds, 1-%d (default: %d)", maxToolTimeout, defaultToolTimeout)),
		),
		mcp.WithString("bind",
			mcp.Description("Comma-separated local source addresses rotated per attempt"),
		),
	)
}

// ToolDefinitions lists the tools this server exposes.
func ToolDefinitions() []mcp.Tool {
	return []mcp.Tool{flurryTool()}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func handleConnectionFlurry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := config.DefaultConfig()
	cfg.Host = strings.TrimSpace(req.GetString("host", ""))
	cfg.Port = strconv.Itoa(req.GetInt("port", 80))
	cfg.Concurrency = clamp(req.GetInt("concurrency", config.DefaultConcurrency), 1, maxToolConcurrency)
	cfg.Total = uint64(clamp(req.GetInt("total", config.DefaultTotal), 1, maxToolTotal))
	cfg.Timeout = time.Duration(clamp(req.GetInt("timeout", defaultToolTimeout), 1, maxToolTimeout)) * time.Second
	cfg.BindAddresses = config.SplitList(req.GetString("bind", ""))

	if err := cfg.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	localAddrs, err := cfg.ParsedBindAddresses()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	logger := logging.NewLogger("mcp")
	pool, err := flurry.NewConnectionPool(flurry.Options{
		Target:      flurry.NewTarget(cfg.Host, cfg.Port),
		Concurrency: cfg.Concurrency,
		Total:       cfg.Total,
		LocalAddrs:  localAddrs,
		StaleAfter:  cfg.StaleAfter,
		TickTimeout: cfg.TickTimeout,
		Logger:      logger,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Connection flurry failed: %v", err)), nil
	}
	defer pool.Close()

	report, err := flurry.Run(runCtx, pool, flurry.RunOptions{RunID: uuid.NewString(), Logger: logger})
	if err != nil && report.Attempted == 0 && !ferrors.IsContextError(err) {
		return mcp.NewToolResultError(fmt.Sprintf("Connection flurry failed: %v", err)), nil
	}

	// Exhausted and timed-out runs still carry a useful report.
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
