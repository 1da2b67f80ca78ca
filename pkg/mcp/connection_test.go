package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jllopis/harness/pkg/capability"
	herrors "github.com/jllopis/harness/pkg/errors"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

type fakeToolClient struct {
	mu       sync.Mutex
	tools    []mcpgo.Tool
	listErr  error
	callErr  error
	result   *mcpgo.CallToolResult
	calls    []string
	closed   int
	lastArgs map[string]any
}

func (f *fakeToolClient) ListTools(ctx context.Context) ([]mcpgo.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeToolClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.lastArgs = args
	return f.result, f.callErr
}

func (f *fakeToolClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func fakeDial(fc *fakeToolClient, err error) dialFunc {
	return func(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (toolClient, error) {
		if err != nil {
			return nil, err
		}
		return fc, nil
	}
}

func newFakeConnection(cfg ServerConfig, fc *fakeToolClient, dialErr error) *Connection {
	conn := NewConnection(cfg)
	conn.dial = fakeDial(fc, dialErr)
	return conn
}

func TestConnection_StdioLifecycle(t *testing.T) {
	conn := NewConnection(helperConfig(t, "files"))
	if conn.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", conn.State())
	}
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer conn.Close()

	if !conn.Ready() {
		t.Fatalf("expected ready, got %s", conn.State())
	}
	caps := conn.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %+v", caps)
	}
	var readFile capability.Descriptor
	for _, c := range caps {
		if c.Name == "read_file" {
			readFile = c
		}
	}
	if got := readFile.Params.Signature(); got != "offset: number, path: string" {
		t.Fatalf("unexpected signature %q", got)
	}
	if req := readFile.Params.Required(); len(req) != 1 || req[0] != "path" {
		t.Fatalf("unexpected required %v", req)
	}

	res := conn.Invoke(context.Background(), "read_file", map[string]any{"path": "main.go"})
	if res.IsError || res.Text != "contents of main.go" {
		t.Fatalf("unexpected result %+v", res)
	}

	res = conn.Invoke(context.Background(), "explode", nil)
	if !res.IsError || !strings.Contains(res.Text, "boom") {
		t.Fatalf("expected remote error result, got %+v", res)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if conn.State() != StateClosed {
		t.Fatalf("expected closed, got %s", conn.State())
	}
	if res := conn.Invoke(context.Background(), "read_file", map[string]any{"path": "x"}); !res.IsError {
		t.Fatalf("expected error result after close")
	}
}

func TestConnection_FailedHandshake(t *testing.T) {
	conn := NewConnection(ServerConfig{Name: "broken", Command: "/nonexistent/harness-provider"})
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected connect error")
	}
	if herrors.CodeOf(err) != herrors.CodeConnectionFailure {
		t.Fatalf("expected CONNECTION_FAILURE, got %v", err)
	}
	if conn.State() != StateFailed {
		t.Fatalf("expected failed, got %s", conn.State())
	}
	if len(conn.Capabilities()) != 0 {
		t.Fatalf("failed connection must expose no capabilities")
	}
	if res := conn.Invoke(context.Background(), "anything", nil); !res.IsError {
		t.Fatalf("expected error result from failed connection")
	}
	if err := conn.Connect(context.Background()); err == nil {
		t.Fatalf("expected failed connection not to reconnect")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close after failed connect: %v", err)
	}
}

func TestConnection_DiscoveryFailureClosesClient(t *testing.T) {
	fc := &fakeToolClient{listErr: errors.New("list failed")}
	conn := newFakeConnection(ServerConfig{Name: "p", Command: "x"}, fc, nil)

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatalf("expected discovery error")
	}
	if conn.State() != StateFailed {
		t.Fatalf("expected failed, got %s", conn.State())
	}
	if fc.closed != 1 {
		t.Fatalf("expected client closed once, got %d", fc.closed)
	}
}

func TestConnection_IncludeExclude(t *testing.T) {
	fc := &fakeToolClient{tools: []mcpgo.Tool{
		mcpgo.NewTool("read_file"),
		mcpgo.NewTool("write_file"),
		mcpgo.NewTool("delete_file"),
		mcpgo.NewTool("read_file"),
	}}
	conn := newFakeConnection(ServerConfig{
		Name:    "fs",
		Command: "x",
		Include: []string{"read_file", "write_file", "delete_file"},
		Exclude: []string{"delete_file"},
	}, fc, nil)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	caps := conn.Capabilities()
	if len(caps) != 2 || caps[0].Name != "read_file" || caps[1].Name != "write_file" {
		t.Fatalf("unexpected capabilities %+v", caps)
	}

	if res := conn.Invoke(context.Background(), "delete_file", nil); !res.IsError {
		t.Fatalf("expected excluded capability to be rejected")
	}
	if len(fc.calls) != 0 {
		t.Fatalf("excluded capability must not reach the provider")
	}
}

func TestConnection_InvokeFaultsBecomeResults(t *testing.T) {
	tests := []struct {
		name    string
		result  *mcpgo.CallToolResult
		callErr error
		want    string
		isError bool
	}{
		{name: "transport error", callErr: errors.New("broken pipe"), want: "Error calling capability 'read_file': broken pipe", isError: true},
		{name: "nil result", want: "Error: capability 'read_file' returned no result", isError: true},
		{name: "remote error without text", result: &mcpgo.CallToolResult{IsError: true}, want: "Error: capability 'read_file' failed", isError: true},
		{name: "structured", result: &mcpgo.CallToolResult{StructuredContent: map[string]any{"n": 1}}, want: `{"n":1}`},
		{name: "text", result: mcpgo.NewToolResultText("hello"), want: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeToolClient{tools: []mcpgo.Tool{mcpgo.NewTool("read_file")}, result: tt.result, callErr: tt.callErr}
			conn := newFakeConnection(ServerConfig{Name: "fs", Command: "x"}, fc, nil)
			if err := conn.Connect(context.Background()); err != nil {
				t.Fatalf("Connect error: %v", err)
			}
			res := conn.Invoke(context.Background(), "read_file", nil)
			if res.Text != tt.want || res.IsError != tt.isError {
				t.Fatalf("expected %q (error=%v), got %+v", tt.want, tt.isError, res)
			}
			if fc.lastArgs == nil {
				t.Fatalf("expected nil arguments to be sent as an empty object")
			}
		})
	}
}

func TestConnection_ValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"missing name", ServerConfig{Command: "x"}},
		{"stdio without command", ServerConfig{Name: "a", Transport: TransportStdio}},
		{"http without url", ServerConfig{Name: "a", Transport: TransportHTTP}},
		{"unknown transport", ServerConfig{Name: "a", Transport: "carrier-pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewConnection(tt.cfg)
			err := conn.Connect(context.Background())
			if herrors.CodeOf(err) != herrors.CodeInvalidInput {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
			if conn.State() != StateFailed {
				t.Fatalf("expected failed, got %s", conn.State())
			}
		})
	}
}

func TestToDescriptor_RawSchemaOrder(t *testing.T) {
	tool := mcpgo.NewToolWithRawSchema("search", "Search code",
		[]byte(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`))
	desc := toDescriptor(tool, "remote")
	if got := desc.Params.Signature(); got != "query: string, limit: integer" {
		t.Fatalf("unexpected signature %q", got)
	}
	if desc.Origin != "remote" || desc.Description != "Search code" {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
}
