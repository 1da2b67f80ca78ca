// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the orchestration loop: it alternates model calls
// and capability dispatches over a Transcript until the model answers
// without requesting an action or the step ceiling is reached.
package agent

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jllopis/harness/pkg/capability"
	"github.com/jllopis/harness/pkg/core"
	"github.com/jllopis/harness/pkg/journal"
	"github.com/jllopis/harness/pkg/llm"
	"github.com/jllopis/harness/pkg/prompt"
	"github.com/jllopis/harness/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds a run when no ceiling is configured.
const DefaultMaxSteps = 20

var (
	ErrMissingProvider = errors.New("agent: model provider is required")
	ErrMissingRegistry = errors.New("agent: capability registry is required")
)

// Agent drives one conversation at a time.
type Agent struct {
	provider     llm.Provider
	providerName string
	registry     *capability.Registry
	model        string
	maxSteps     int
	tokenBudget  int
	rules        prompt.Rules
	logger       *slog.Logger
	emitter      core.EventEmitter
	journal      journal.Journal
	metrics      *telemetry.LoopMetrics
	tracer       trace.Tracer
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an Agent. A provider and a registry are required.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		maxSteps: DefaultMaxSteps,
		rules:    prompt.Rules{FilesystemRoot: prompt.DefaultFilesystemRoot},
		logger:   slog.Default(),
		emitter:  core.NoopEventEmitter{},
		tracer:   telemetry.Tracer(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.provider == nil {
		return nil, ErrMissingProvider
	}
	if a.registry == nil {
		return nil, ErrMissingRegistry
	}
	if a.providerName == "" {
		a.providerName = fmt.Sprintf("%T", a.provider)
	}
	return a, nil
}

// WithProvider sets the model backend.
func WithProvider(p llm.Provider) Option {
	return func(a *Agent) error {
		a.provider = p
		return nil
	}
}

// WithProviderName labels the backend in spans, e.g. "ollama".
func WithProviderName(name string) Option {
	return func(a *Agent) error {
		a.providerName = name
		return nil
	}
}

// WithRegistry sets the capability registry dispatched against.
func WithRegistry(r *capability.Registry) Option {
	return func(a *Agent) error {
		a.registry = r
		return nil
	}
}

// WithModel sets the model identifier sent with every request.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.model = model
		return nil
	}
}

// WithMaxSteps sets the step ceiling.
func WithMaxSteps(n int) Option {
	return func(a *Agent) error {
		if n < 1 {
			return fmt.Errorf("agent: max steps must be at least 1, got %d", n)
		}
		a.maxSteps = n
		return nil
	}
}

// WithTokenBudget emits a context budget event once per run when the
// transcript's estimated size passes n tokens. Zero disables the check.
func WithTokenBudget(n int) Option {
	return func(a *Agent) error {
		a.tokenBudget = n
		return nil
	}
}

// WithRules sets the operating rules rendered into the system turn.
func WithRules(rules prompt.Rules) Option {
	return func(a *Agent) error {
		a.rules = rules
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithEventEmitter receives task, action and completion events.
func WithEventEmitter(emitter core.EventEmitter) Option {
	return func(a *Agent) error {
		if emitter != nil {
			a.emitter = emitter
		}
		return nil
	}
}

// WithJournal records every run and dispatched action.
func WithJournal(j journal.Journal) Option {
	return func(a *Agent) error {
		a.journal = j
		return nil
	}
}

// WithMetrics records loop metrics.
func WithMetrics(m *telemetry.LoopMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) error {
		if t != nil {
			a.tracer = t
		}
		return nil
	}
}

// Model returns the configured model identifier.
func (a *Agent) Model() string { return a.model }

// MaxSteps returns the step ceiling.
func (a *Agent) MaxSteps() int { return a.maxSteps }

// SetModel changes the model used by subsequent runs. Not safe to call
// while Run is in flight.
func (a *Agent) SetModel(model string) { a.model = model }

// SetMaxSteps changes the ceiling for subsequent runs. Values below one are ignored.
func (a *Agent) SetMaxSteps(n int) {
	if n >= 1 {
		a.maxSteps = n
	}
}

// SystemPrompt renders the system turn for the registry's current state.
func (a *Agent) SystemPrompt() string {
	return prompt.Build(a.registry.RenderDocs(), a.rules)
}
