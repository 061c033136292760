//go:build linux

package mcp

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/saveenergy/connflurry/pkg/types"
)

func callTool(t *testing.T, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "connection_flurry",
			Arguments: args,
		},
	}
	res, err := handleConnectionFlurry(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if res == nil {
		t.Fatal("nil result")
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result content")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("content type = %T", res.Content[0])
	return ""
}

func TestToolDefinitions(t *testing.T) {
	tools := ToolDefinitions()
	if len(tools) != 1 || tools[0].Name != "connection_flurry" {
		t.Fatalf("tools = %+v", tools)
	}
	required := tools[0].InputSchema.Required
	if len(required) != 1 || required[0] != "host" {
		t.Fatalf("required = %v", required)
	}
}

func TestConnectionFlurryTool(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	res := callTool(t, map[string]any{
		"host":        "127.0.0.1",
		"port":        float64(ln.Addr().(*net.TCPAddr).Port),
		"concurrency": float64(2),
		"total":       float64(10),
		"timeout":     float64(20),
	})
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if _, ok := ToolDefinitions()[0].InputSchema.Properties["bind"]; !ok {
		t.Fatal("tool missing bind property")
	}

	var report types.RunReport
	if err := json.Unmarshal([]byte(resultText(t, res)), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != types.RunStatusCompleted || report.Established != 10 {
		t.Fatalf("report = %+v", report)
	}
}

func TestConnectionFlurryToolValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "missing host", args: map[string]any{}},
		{name: "bad bind", args: map[string]any{"host": "127.0.0.1", "bind": "not-an-ip"}},
		{name: "bad port", args: map[string]any{"host": "127.0.0.1", "port": float64(70000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := callTool(t, tt.args); !res.IsError {
				t.Fatalf("expected tool error, got %s", resultText(t, res))
			}
		})
	}
}
