package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/harness/pkg/capability"
)

func TestManager_ConnectSkipsFailedProviders(t *testing.T) {
	m := NewManager()
	defer m.Close()

	ready, err := m.Connect(context.Background(), []ServerConfig{
		{Name: "broken", Command: "/nonexistent/harness-provider"},
		helperConfig(t, "files"),
	})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if len(ready) != 1 || ready[0].Name() != "files" {
		t.Fatalf("expected only 'files' ready, got %d connections", len(ready))
	}

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "broken" || statuses[0].State != StateFailed || statuses[0].Err == nil {
		t.Fatalf("unexpected status for broken provider: %+v", statuses[0])
	}
	if statuses[1].State != StateReady || statuses[1].Capabilities != 2 {
		t.Fatalf("unexpected status for files provider: %+v", statuses[1])
	}

	reg := capability.NewRegistry()
	for _, conn := range ready {
		reg.Merge(conn)
	}
	docs := reg.RenderDocs()
	if !strings.Contains(docs, "- read_file(") {
		t.Fatalf("expected read_file in docs:\n%s", docs)
	}
	if strings.Contains(docs, "broken") {
		t.Fatalf("failed provider leaked into docs:\n%s", docs)
	}
}

func TestManager_ConfigOrder(t *testing.T) {
	m := NewManager(WithParallelism(3))
	m.dial = func(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (toolClient, error) {
		return &fakeToolClient{}, nil
	}
	defer m.Close()

	ready, err := m.Connect(context.Background(), []ServerConfig{
		{Name: "c", Command: "x"},
		{Name: "a", Command: "x"},
		{Name: "b", Command: "x"},
	})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	var names []string
	for _, c := range ready {
		names = append(names, c.Name())
	}
	if strings.Join(names, ",") != "c,a,b" {
		t.Fatalf("expected configuration order, got %v", names)
	}
}

func TestManager_PassesClientOptions(t *testing.T) {
	m := NewManager(WithManagerClientOptions(WithTimeout(7*time.Second), WithRetry(0, 0)))
	var got *Client
	m.dial = func(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (toolClient, error) {
		got = newClient(opts...)
		return &fakeToolClient{}, nil
	}
	defer m.Close()

	if _, err := m.Connect(context.Background(), []ServerConfig{{Name: "fs", Command: "x"}}); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if got == nil {
		t.Fatalf("dial was not called")
	}
	if got.timeout != 7*time.Second || got.maxRetries != 0 {
		t.Fatalf("client options not applied: timeout=%v retries=%d", got.timeout, got.maxRetries)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := NewManager()
	m.dial = func(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (toolClient, error) {
		return &fakeToolClient{}, nil
	}
	ready, _ := m.Connect(context.Background(), []ServerConfig{{Name: "a", Command: "x"}})

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if ready[0].State() != StateClosed {
		t.Fatalf("expected connection closed, got %s", ready[0].State())
	}
	if _, err := m.Connect(context.Background(), nil); err != ErrManagerClosed {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}
