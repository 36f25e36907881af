package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
)

// --- getArgs / stringArg / intArg helpers ---

func TestGetArgs_NilArguments(t *testing.T) {
	req := mcp.CallToolRequest{}
	args := getArgs(req)
	if args == nil {
		t.Fatal("getArgs returned nil, expected empty map")
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgs_WrongType(t *testing.T) {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: "not a map"}}
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map for wrong type, got %v", args)
	}
}

func TestStringArg_Missing(t *testing.T) {
	args := map[string]interface{}{}
	if got := stringArg(args, "name", "default"); got != "default" {
		t.Fatalf("expected 'default', got %q", got)
	}
}

func TestIntArg_Present(t *testing.T) {
	args := map[string]interface{}{"count": float64(42)}
	if got := intArg(args, "count", 0); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntArg_Missing(t *testing.T) {
	args := map[string]interface{}{}
	if got := intArg(args, "count", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
}

func TestIntArg_WrongType(t *testing.T) {
	args := map[string]interface{}{"count": "not a number"}
	if got := intArg(args, "count", 7); got != 7 {
		t.Fatalf("expected default 7 on wrong type, got %d", got)
	}
}

// --- newTextResult / errResult ---

func TestNewTextResult(t *testing.T) {
	result := newTextResult("hello")
	if result.IsError {
		t.Fatal("newTextResult should not set IsError")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok || tc.Text != "hello" {
		t.Fatalf("expected TextContent 'hello', got %v", result.Content[0])
	}
}

func TestErrResult(t *testing.T) {
	result := errResult("boom")
	if !result.IsError {
		t.Fatal("errResult should set IsError=true")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok || tc.Text != "boom" {
		t.Fatalf("expected TextContent 'boom', got %v", result.Content[0])
	}
}

// --- handleMeasureWakeLatency ---

func TestHandleMeasureWakeLatency_FixtureBackend(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "result")
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"backend": "fixture",
				"count":   float64(5),
				"outdir":  outdir,
			},
		},
	}
	res, err := handleMeasureWakeLatency(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		tc := res.Content[0].(mcp.TextContent)
		t.Fatalf("expected success, got error result: %s", tc.Text)
	}

	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var summary map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &summary); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	collected, ok := summary["collected"].(float64)
	if !ok || collected <= 0 {
		t.Fatalf("expected collected > 0, got %v", summary["collected"])
	}
	if summary["result_dir"] != outdir {
		t.Fatalf("expected result_dir %q, got %v", outdir, summary["result_dir"])
	}
}

func TestHandleMeasureWakeLatency_UnknownBackend(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{"backend": "nonsense"},
		},
	}
	res, err := handleMeasureWakeLatency(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for unknown backend")
	}
}

// --- handleReadResult ---

func TestHandleReadResult_MissingDir(t *testing.T) {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: map[string]interface{}{}}}
	res, err := handleReadResult(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError when dir is missing")
	}
}

func TestHandleReadResult_NonexistentDir(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{"dir": filepath.Join(t.TempDir(), "nope")},
		},
	}
	res, err := handleReadResult(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for nonexistent directory")
	}
}

func TestHandleReadResult_ValidDir(t *testing.T) {
	dir := t.TempDir()
	rw, err := resultwriter.New(dir, model.InfoSidecar{ToolName: "wult", FormatVersion: "1.3"})
	if err != nil {
		t.Fatalf("resultwriter.New: %v", err)
	}
	csv, err := rw.EnsureCSV([]string{"ReqCState", "WakeLatency"})
	if err != nil {
		t.Fatalf("EnsureCSV: %v", err)
	}
	if err := csv.AddRow([]string{"C6", "10.0"}); err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]interface{}{"dir": dir}},
	}
	res, err := handleReadResult(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		tc := res.Content[0].(mcp.TextContent)
		t.Fatalf("expected success, got error result: %s", tc.Text)
	}
	tc := res.Content[0].(mcp.TextContent)
	var summary map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &summary); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if rowCount, ok := summary["row_count"].(float64); !ok || rowCount != 1 {
		t.Fatalf("expected row_count=1, got %v", summary["row_count"])
	}
}
