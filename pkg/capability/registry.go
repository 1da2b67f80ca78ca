// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// registration is either a built-in or a merged source, in call order.
type registration struct {
	builtin *Builtin
	source  Source
}

// Registry merges built-ins and provider sources into one flat namespace.
//
// Built-ins take precedence over provider capabilities of the same name,
// whichever was registered first. Among providers the first registered wins.
// Dropped duplicates are logged, never reported as errors.
type Registry struct {
	mu            sync.Mutex
	registrations []registration
	warned        map[string]bool
	logger        *slog.Logger

	snapshot atomic.Pointer[Snapshot]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for collision warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		warned: make(map[string]bool),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snapshot.Store(emptySnapshot())
	return r
}

// RegisterBuiltin adds an in-process capability.
func (r *Registry) RegisterBuiltin(desc Descriptor, handler Handler) error {
	b, err := NewBuiltin(desc, handler)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.builtin != nil && reg.builtin.desc.Name == desc.Name {
			return fmt.Errorf("built-in capability %q already registered", desc.Name)
		}
	}
	r.registrations = append(r.registrations, registration{builtin: b})
	r.rebuildLocked()
	return nil
}

// Merge incorporates the descriptors of a source and returns how many of
// them are reachable after collision resolution.
func (r *Registry) Merge(src Source) int {
	if src == nil {
		return 0
	}
	if rs, ok := src.(interface{ Ready() bool }); ok && !rs.Ready() {
		r.logger.Warn("skipping capability source that is not ready", "origin", src.Name())
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.source != nil && reg.source.Name() == src.Name() {
			r.logger.Warn("capability source already merged", "origin", src.Name())
			return 0
		}
	}
	r.registrations = append(r.registrations, registration{source: src})
	snap := r.rebuildLocked()

	added := 0
	for _, c := range snap.caps {
		if c.Descriptor().Origin == src.Name() {
			added++
		}
	}
	return added
}

// Drop removes every capability contributed by origin, typically after its
// connection closed. Capabilities it shadowed become visible again.
func (r *Registry) Drop(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.registrations[:0]
	for _, reg := range r.registrations {
		if reg.source != nil && reg.source.Name() == origin {
			continue
		}
		kept = append(kept, reg)
	}
	r.registrations = kept
	r.rebuildLocked()
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Resolve returns the origin of the capability that name dispatches to.
func (r *Registry) Resolve(name string) (string, bool) {
	c, ok := r.Snapshot().Lookup(name)
	if !ok {
		return "", false
	}
	return c.Descriptor().Origin, true
}

// Dispatch invokes name against the current snapshot.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	return r.Snapshot().Dispatch(ctx, name, args)
}

// RenderDocs renders the current snapshot documentation.
func (r *Registry) RenderDocs() string {
	return r.Snapshot().Docs()
}

// rebuildLocked recomputes the snapshot from the registrations and publishes it.
func (r *Registry) rebuildLocked() *Snapshot {
	builtinNames := make(map[string]bool)
	for _, reg := range r.registrations {
		if reg.builtin != nil {
			builtinNames[reg.builtin.desc.Name] = true
		}
	}

	snap := &Snapshot{index: make(map[string]int)}
	if prev := r.snapshot.Load(); prev != nil {
		snap.version = prev.version + 1
	}

	for _, reg := range r.registrations {
		if reg.builtin != nil {
			snap.add(reg.builtin)
			continue
		}
		origin := reg.source.Name()
		for _, desc := range reg.source.Capabilities() {
			if desc.Name == "" {
				continue
			}
			desc.Origin = origin
			if builtinNames[desc.Name] {
				r.warnOnce(origin, desc.Name, "shadowed by built-in capability", OriginBuiltin)
				continue
			}
			if i, taken := snap.index[desc.Name]; taken {
				r.warnOnce(origin, desc.Name, "already provided by another origin", snap.caps[i].Descriptor().Origin)
				continue
			}
			snap.add(&remote{desc: desc, source: reg.source})
		}
	}

	r.snapshot.Store(snap)
	return snap
}

func (r *Registry) warnOnce(origin, name, reason, winner string) {
	key := origin + "\x00" + name
	if r.warned[key] {
		return
	}
	r.warned[key] = true
	r.logger.Warn("dropping duplicate capability",
		"capability", name,
		"origin", origin,
		"kept_origin", winner,
		"reason", reason,
	)
}

// Snapshot is an immutable, ordered view of a registry.
type Snapshot struct {
	caps    []Capability
	index   map[string]int
	version uint64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{index: map[string]int{}}
}

func (s *Snapshot) add(c Capability) {
	s.index[c.Descriptor().Name] = len(s.caps)
	s.caps = append(s.caps, c)
}

// Version increases every time the registry is rebuilt.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of capabilities.
func (s *Snapshot) Len() int { return len(s.caps) }

// Lookup finds a capability by name.
func (s *Snapshot) Lookup(name string) (Capability, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.caps[i], true
}

// Descriptors returns descriptors in registration order.
func (s *Snapshot) Descriptors() []Descriptor {
	out := make([]Descriptor, len(s.caps))
	for i, c := range s.caps {
		out[i] = c.Descriptor()
	}
	return out
}

// Names returns capability names in registration order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.caps))
	for i, c := range s.caps {
		out[i] = c.Descriptor().Name
	}
	return out
}

// Docs renders one line per capability in registration order:
//
//	- name(param: type, ...): description
func (s *Snapshot) Docs() string {
	lines := make([]string, 0, len(s.caps))
	for _, c := range s.caps {
		d := c.Descriptor()
		lines = append(lines, fmt.Sprintf("- %s(%s): %s", d.Name, d.Params.Signature(), oneLine(d.Description)))
	}
	return strings.Join(lines, "\n")
}

// Dispatch routes name to its capability. Unknown names, missing required
// arguments and invocation faults are returned as error results.
func (s *Snapshot) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	c, ok := s.Lookup(name)
	if !ok {
		return Errorf("Error: Unknown capability '%s'", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	for _, req := range c.Descriptor().Params.Required() {
		if _, present := args[req]; !present {
			return Errorf("Error: capability '%s' missing required argument %q", name, req)
		}
	}
	return c.Invoke(ctx, args)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
