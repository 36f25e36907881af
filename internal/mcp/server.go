// Package mcp exposes wult's measurement and result-reading surface as
// Model Context Protocol tools, so an AI agent can drive a run and read
// results back without shelling out to the CLI.
//
// Grounded on the teacher's internal/mcp/server.go and cmd/melisai/mcp.go,
// retargeted from system-health/anomaly tools to wake-latency
// measurement tools.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with wult's tools registered.
func NewServer(version string) *Server {
	s := server.NewMCPServer("wult", version, server.WithLogging())
	registerTools(s)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer) {
	measureTool := mcp.NewTool("measure_wake_latency",
		mcp.WithDescription("Run a wake-up latency measurement and return a JSON summary (collected datapoints, max latency, result directory). Uses the in-memory fixture backend unless a real device is requested."),
		mcp.WithString("backend",
			mcp.Description("Raw source backend: fixture (default, synthetic data for demos), debugfs, or native"),
			mcp.DefaultString("fixture"),
			mcp.Enum("fixture", "debugfs", "native"),
		),
		mcp.WithNumber("count",
			mcp.Description("Target datapoint count (0 = unlimited, bounded by duration_sec instead)"),
		),
		mcp.WithNumber("duration_sec",
			mcp.Description("Wall-clock limit in seconds (0 = unlimited)"),
		),
		mcp.WithString("outdir",
			mcp.Description("Result directory to write to; a temporary directory is used if omitted"),
		),
	)
	s.AddTool(measureTool, handleMeasureWakeLatency)

	readTool := mcp.NewTool("read_result",
		mcp.WithDescription("Load a previously written wult result directory and return its sidecar metadata plus row count."),
		mcp.WithString("dir",
			mcp.Required(),
			mcp.Description("Path to a result directory containing info.yml and datapoints.csv"),
		),
	)
	s.AddTool(readTool, handleReadResult)
}
