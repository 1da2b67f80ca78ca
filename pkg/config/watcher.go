// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Loader produces a fresh configuration, typically a closure over LoadWithCLI.
type Loader func() (*Config, error)

// Watcher polls configuration files and reloads when one of them changes.
// The interactive shell uses it to pick up model and step limit edits
// between tasks without restarting provider connections.
type Watcher struct {
	mu        sync.RWMutex
	paths     []string
	interval  time.Duration
	modTimes  map[string]time.Time
	load      Loader
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload messages.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the initial configuration and records file mod times.
// Paths that do not exist yet are watched for creation.
func NewWatcher(paths []string, load Loader, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    paths,
		interval: time.Second,
		modTimes: make(map[string]time.Time),
		load:     load,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			w.modTimes[path] = info.ModTime()
		}
	}

	cfg, err := load()
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the latest successfully loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop ends polling and waits for the watch goroutine. Safe to call twice.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		last, seen := w.modTimes[path]
		if !seen || !info.ModTime().Equal(last) {
			w.modTimes[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		// Keep serving the previous configuration.
		w.logger.Error("config reload failed", "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchCLI builds a watcher over the files LoadWithCLI(args) reads and
// starts it.
func WatchCLI(ctx context.Context, args []string, opts ...WatcherOption) (*Watcher, error) {
	cli, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	path := cli.path
	if path == "" {
		path = DefaultPath()
	}

	var paths []string
	if path != "" {
		paths = append(paths, path)
		if cli.profile != "" {
			ext := filepath.Ext(path)
			name := strings.TrimSuffix(filepath.Base(path), ext)
			paths = append(paths, filepath.Join(filepath.Dir(path), name+"."+cli.profile+ext))
		}
	}

	w, err := NewWatcher(paths, func() (*Config, error) { return LoadWithCLI(args) }, opts...)
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}
