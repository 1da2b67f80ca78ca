// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultRetries          = 2
	defaultBackoff          = 200 * time.Millisecond

	clientName    = "harness"
	clientVersion = "0.1.0"
)

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and backoff for discovery.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// Client wraps the mcp-go client with request timeouts and discovery retries.
type Client struct {
	mcpClient  client.MCPClient
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	server     mcp.Implementation

	closeOnce sync.Once
	closeErr  error
}

func newClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:    defaultTimeout,
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithStdio spawns command as a subprocess and performs the
// initialize handshake over its stdio. env entries are added to the
// inherited environment.
func NewClientWithStdio(ctx context.Context, command string, args []string, env map[string]string, opts ...ClientOption) (*Client, error) {
	c := newClient(opts...)
	stdioClient, err := client.NewStdioMCPClient(command, envList(env), args...)
	if err != nil {
		return nil, err
	}
	if err := c.handshake(ctx, stdioClient); err != nil {
		_ = stdioClient.Close()
		return nil, err
	}
	return c, nil
}

// NewClientWithStreamableHTTP connects to a Streamable HTTP endpoint and
// performs the initialize handshake.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := newClient(opts...)
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	if err := c.handshake(ctx, httpClient); err != nil {
		_ = httpClient.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context, mc *client.Client) error {
	if err := mc.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultHandshakeTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	res, err := mc.Initialize(ctx, initRequest)
	if err != nil {
		return err
	}
	c.server = res.ServerInfo
	c.mcpClient = mc
	return nil
}

// ServerInfo returns the implementation reported by the server on initialize.
func (c *Client) ServerInfo() mcp.Implementation {
	return c.server
}

// ListTools retrieves the list of tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := withRetry(ctx, c, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool executes a tool on the server. It is sent exactly once: a
// failed call may still have taken effect on the provider.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mcpClient.CallTool(ctx, req)
}

// Close releases the session. Only the first call has an effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.mcpClient != nil {
			c.closeErr = c.mcpClient.Close()
		}
	})
	return c.closeErr
}

func withRetry[T any](ctx context.Context, c *Client, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := c.maxRetries + 1
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := c.withTimeout(ctx)
		res, err := call(reqCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := c.sleepBackoff(ctx, i); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	wait := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
