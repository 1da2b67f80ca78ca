// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jllopis/harness/pkg/capability"
	herrors "github.com/jllopis/harness/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// Transport selects how a provider is reached.
type Transport string

const (
	// TransportStdio spawns the provider as a subprocess.
	TransportStdio Transport = "stdio"
	// TransportHTTP connects via Streamable HTTP.
	TransportHTTP Transport = "http"
)

// ServerConfig describes one capability provider.
type ServerConfig struct {
	Name      string            `koanf:"name"`
	Transport Transport         `koanf:"transport"`
	Command   string            `koanf:"command"`
	Args      []string          `koanf:"args"`
	Env       map[string]string `koanf:"env"`
	URL       string            `koanf:"url"`

	// Include, when non-empty, keeps only the listed capabilities.
	Include []string `koanf:"include"`
	// Exclude drops the listed capabilities.
	Exclude []string `koanf:"exclude"`
}

// Validate reports configuration errors that make connecting pointless.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server: name is required")
	}
	switch c.transport() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %q: command is required for stdio", c.Name)
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp server %q: url is required for http", c.Name)
		}
	default:
		return fmt.Errorf("mcp server %q: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

func (c ServerConfig) transport() Transport {
	if c.Transport == "" {
		if c.URL != "" && c.Command == "" {
			return TransportHTTP
		}
		return TransportStdio
	}
	return Transport(strings.ToLower(string(c.Transport)))
}

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// toolClient is the subset of *Client a Connection needs.
type toolClient interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (toolClient, error)

func dial(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (toolClient, error) {
	switch cfg.transport() {
	case TransportHTTP:
		return NewClientWithStreamableHTTP(ctx, cfg.URL, opts...)
	default:
		return NewClientWithStdio(ctx, cfg.Command, cfg.Args, cfg.Env, opts...)
	}
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithConnectionLogger sets the connection logger.
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientOptions passes options to the underlying client.
func WithClientOptions(opts ...ClientOption) ConnectionOption {
	return func(c *Connection) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// Connection is a live session with one capability provider. Discovery
// happens once, during Connect. It implements capability.Source.
type Connection struct {
	cfg        ServerConfig
	logger     *slog.Logger
	clientOpts []ClientOption
	dial       dialFunc

	mu     sync.RWMutex
	state  State
	err    error
	client toolClient
	descs  []capability.Descriptor
	names  map[string]bool

	closeOnce sync.Once
	closeErr  error
}

// NewConnection creates a disconnected connection for cfg.
func NewConnection(cfg ServerConfig, opts ...ConnectionOption) *Connection {
	c := &Connection{
		cfg:    cfg,
		logger: slog.Default(),
		dial:   dial,
		names:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("provider", cfg.Name)
	return c
}

// Name returns the provider name, used as the capability origin.
func (c *Connection) Name() string { return c.cfg.Name }

// Config returns the provider configuration.
func (c *Connection) Config() ServerConfig { return c.cfg }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether the connection completed handshake and discovery.
func (c *Connection) Ready() bool { return c.State() == StateReady }

// Err returns the failure that moved the connection to failed, if any.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Connect performs the handshake and a single discovery. A failure leaves
// the connection in StateFailed with no capabilities; it is not retried.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return herrors.New(herrors.CodeInvalidInput, fmt.Sprintf("provider %q is %s", c.cfg.Name, state), nil)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.cfg.Validate(); err != nil {
		return c.fail(herrors.New(herrors.CodeInvalidInput, "invalid provider configuration", err))
	}

	cl, err := c.dial(ctx, c.cfg, c.clientOpts...)
	if err != nil {
		return c.fail(herrors.New(herrors.CodeConnectionFailure, "provider handshake failed", err).
			WithContext("provider", c.cfg.Name))
	}

	tools, err := cl.ListTools(ctx)
	if err != nil {
		_ = cl.Close()
		return c.fail(herrors.New(herrors.CodeConnectionFailure, "capability discovery failed", err).
			WithContext("provider", c.cfg.Name))
	}

	descs := make([]capability.Descriptor, 0, len(tools))
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if tool.Name == "" || names[tool.Name] || !c.allowed(tool.Name) {
			continue
		}
		names[tool.Name] = true
		descs = append(descs, toDescriptor(tool, c.cfg.Name))
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = cl.Close()
		return herrors.New(herrors.CodeCancelled, fmt.Sprintf("provider %q closed during connect", c.cfg.Name), nil)
	}
	c.client = cl
	c.descs = descs
	c.names = names
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("provider ready", "capabilities", len(descs))
	return nil
}

func (c *Connection) fail(err error) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateFailed
	}
	c.err = err
	c.mu.Unlock()
	c.logger.Warn("provider unavailable", "error", err)
	return err
}

func (c *Connection) allowed(name string) bool {
	if len(c.cfg.Include) > 0 && !contains(c.cfg.Include, name) {
		return false
	}
	return !contains(c.cfg.Exclude, name)
}

// Capabilities returns the discovered descriptors in discovery order.
func (c *Connection) Capabilities() []capability.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady {
		return nil
	}
	out := make([]capability.Descriptor, len(c.descs))
	copy(out, c.descs)
	return out
}

// Invoke calls a discovered capability. Faults are returned as error results.
func (c *Connection) Invoke(ctx context.Context, name string, args map[string]any) capability.Result {
	c.mu.RLock()
	state, cl, known := c.state, c.client, c.names[name]
	c.mu.RUnlock()

	if state != StateReady {
		return capability.Errorf("Error: provider '%s' is %s", c.cfg.Name, state)
	}
	if !known {
		return capability.Errorf("Error: capability '%s' is not provided by '%s'", name, c.cfg.Name)
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := cl.CallTool(ctx, name, args)
	if err != nil {
		c.logger.Debug("capability call failed", "capability", name, "error", err)
		return capability.Errorf("Error calling capability '%s': %v", name, err)
	}
	return toResult(name, res)
}

// Close releases the session. It is safe to call more than once and after a
// failed connect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cl := c.client
		c.client = nil
		c.state = StateClosed
		c.descs = nil
		c.names = map[string]bool{}
		c.mu.Unlock()
		if cl != nil {
			c.closeErr = cl.Close()
		}
	})
	return c.closeErr
}

func toResult(name string, res *mcp.CallToolResult) capability.Result {
	if res == nil {
		return capability.Errorf("Error: capability '%s' returned no result", name)
	}
	text := contentText(res.Content)
	if text == "" && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			text = string(data)
		}
	}
	if res.IsError {
		if text == "" {
			text = fmt.Sprintf("Error: capability '%s' failed", name)
		}
		return capability.Result{Text: text, IsError: true}
	}
	return capability.Text(text)
}

func contentText(items []mcp.Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", content.MIMEType))
		case mcp.EmbeddedResource:
			if rc, ok := content.Resource.(mcp.TextResourceContents); ok {
				parts = append(parts, rc.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

var _ capability.Source = (*Connection)(nil)
