// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrManagerClosed is returned when connecting through a closed manager.
var ErrManagerClosed = errors.New("mcp manager is closed")

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager and its connections.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithParallelism limits how many providers are started at once.
func WithParallelism(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithManagerClientOptions applies client options to every connection.
func WithManagerClientOptions(opts ...ClientOption) ManagerOption {
	return func(m *Manager) {
		m.clientOpts = append(m.clientOpts, opts...)
	}
}

// Status summarizes one configured provider.
type Status struct {
	Name         string
	State        State
	Capabilities int
	Err          error
}

// Manager starts the configured providers and owns their connections.
type Manager struct {
	logger      *slog.Logger
	parallelism int
	clientOpts  []ClientOption
	dial        dialFunc

	mu     sync.Mutex
	conns  []*Connection
	closed atomic.Bool
}

// NewManager creates a manager with no connections.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:      slog.Default(),
		parallelism: 4,
		dial:        dial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts every provider concurrently. Failures are independent:
// they are logged and the failed provider is left out. The returned
// connections are ready and in configuration order.
func (m *Manager) Connect(ctx context.Context, configs []ServerConfig) ([]*Connection, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	conns := make([]*Connection, len(configs))
	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for i, cfg := range configs {
		conn := NewConnection(cfg, WithConnectionLogger(m.logger), WithClientOptions(m.clientOpts...))
		conn.dial = m.dial
		conns[i] = conn
		g.Go(func() error {
			_ = conn.Connect(ctx)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		for _, c := range conns {
			_ = c.Close()
		}
		return nil, ErrManagerClosed
	}
	m.conns = append(m.conns, conns...)

	ready := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		if c.Ready() {
			ready = append(ready, c)
		}
	}
	m.logger.Info("providers started", "configured", len(configs), "ready", len(ready))
	return ready, ctx.Err()
}

// Statuses reports every provider the manager attempted, in order.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, Status{
			Name:         c.Name(),
			State:        c.State(),
			Capabilities: len(c.Capabilities()),
			Err:          c.Err(),
		})
	}
	return out
}

// Close closes every connection. Subsequent calls are no-ops.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, c := range m.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}
