package mcp

import (
	"context"
	"os"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const mcpStdioHelperEnv = "HARNESS_MCP_STDIO_HELPER"

// TestHelperMCPStdioServer is not a real test: it is re-executed as the
// provider subprocess by the stdio tests.
func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}

	server := mcpserver.NewMCPServer("test-stdio", "1.0.0")
	server.AddTool(mcpgo.NewTool("read_file",
		mcpgo.WithDescription("Read a file"),
		mcpgo.WithString("path", mcpgo.Required(), mcpgo.Description("File path")),
		mcpgo.WithNumber("offset"),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return mcpgo.NewToolResultText("contents of " + req.GetString("path", "")), nil
	})
	server.AddTool(mcpgo.NewTool("explode", mcpgo.WithDescription("Always fails")),
		func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultError("boom"), nil
		})

	if err := mcpserver.ServeStdio(server); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func helperConfig(t *testing.T, name string) ServerConfig {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return ServerConfig{
		Name:      name,
		Transport: TransportStdio,
		Command:   exe,
		Args:      []string{"-test.run", "^TestHelperMCPStdioServer$"},
		Env:       map[string]string{mcpStdioHelperEnv: "1"},
	}
}

func TestClient_Stdio_ListToolsAndCall(t *testing.T) {
	cfg := helperConfig(t, "helper")

	client, err := NewClientWithStdio(context.Background(), cfg.Command, cfg.Args, cfg.Env)
	if err != nil {
		t.Fatalf("NewClientWithStdio error: %v", err)
	}
	defer client.Close()

	if client.ServerInfo().Name != "test-stdio" {
		t.Fatalf("expected server info 'test-stdio', got %+v", client.ServerInfo())
	}

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %+v", tools)
	}

	result, err := client.CallTool(context.Background(), "read_file", map[string]any{"path": "a.go"})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if result == nil || result.IsError {
		t.Fatalf("expected successful tool result, got %+v", result)
	}
	if got := contentText(result.Content); got != "contents of a.go" {
		t.Fatalf("unexpected content %q", got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestClient_Stdio_MissingCommand(t *testing.T) {
	_, err := NewClientWithStdio(context.Background(), "/nonexistent/harness-provider", nil, nil)
	if err == nil {
		t.Fatalf("expected error spawning a missing command")
	}
}

func TestEnvList_Sorted(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1"})
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Fatalf("unexpected env list %v", got)
	}
	if envList(nil) != nil {
		t.Fatalf("expected nil for empty env")
	}
}
