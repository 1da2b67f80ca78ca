// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability aggregates in-process and provider-backed capabilities
// into one namespace the orchestration loop can document and dispatch.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// OriginBuiltin tags capabilities implemented in-process.
const OriginBuiltin = "builtin"

// Descriptor describes one invokable capability.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Params      Schema `json:"parameters"`
	Origin      string `json:"origin"`
}

// Result is the outcome of an invocation. Failures are data: IsError marks
// text that describes a fault rather than a capability output.
type Result struct {
	Text    string
	IsError bool
}

// Text builds a successful result.
func Text(s string) Result {
	return Result{Text: s}
}

// Errorf builds an error result.
func Errorf(format string, args ...any) Result {
	return Result{Text: fmt.Sprintf(format, args...), IsError: true}
}

// Capability is implemented by the two capability variants: Builtin and the
// provider-backed capabilities created by Registry.Merge.
type Capability interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, args map[string]any) Result
	isCapability()
}

// Handler is the synchronous text-in/text-out body of a built-in capability.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Source is a provider of external capabilities, typically a ready MCP connection.
type Source interface {
	// Name identifies the source; it becomes the origin of its descriptors.
	Name() string
	// Capabilities returns the descriptors discovered for this source.
	Capabilities() []Descriptor
	// Invoke calls a capability owned by this source. It never fails as
	// control flow; faults come back as error results.
	Invoke(ctx context.Context, name string, args map[string]any) Result
}

// Builtin is an in-process capability.
type Builtin struct {
	desc    Descriptor
	handler Handler
}

// NewBuiltin creates a built-in capability. The descriptor origin is forced to OriginBuiltin.
func NewBuiltin(desc Descriptor, handler Handler) (*Builtin, error) {
	if desc.Name == "" {
		return nil, errors.New("capability name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("capability %q: handler is required", desc.Name)
	}
	desc.Origin = OriginBuiltin
	return &Builtin{desc: desc, handler: handler}, nil
}

// Descriptor implements Capability.
func (b *Builtin) Descriptor() Descriptor { return b.desc }

// Invoke runs the handler, converting errors and panics into error results.
func (b *Builtin) Invoke(ctx context.Context, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Errorf("Error calling capability '%s': panic: %v", b.desc.Name, r)
		}
	}()
	out, err := b.handler(ctx, args)
	if err != nil {
		return Errorf("Error calling capability '%s': %v", b.desc.Name, err)
	}
	return Text(out)
}

func (b *Builtin) isCapability() {}

// remote routes invocations to the Source that discovered the capability.
type remote struct {
	desc   Descriptor
	source Source
}

func (r *remote) Descriptor() Descriptor { return r.desc }

func (r *remote) Invoke(ctx context.Context, args map[string]any) Result {
	return r.source.Invoke(ctx, r.desc.Name, args)
}

func (r *remote) isCapability() {}

var (
	_ Capability = (*Builtin)(nil)
	_ Capability = (*remote)(nil)
)
