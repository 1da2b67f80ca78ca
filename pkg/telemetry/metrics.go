// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/harness/pkg/errors"
)

const instrumentationName = "github.com/jllopis/harness"

// Tracer returns the harness tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// LoopMetrics instruments the orchestration loop.
type LoopMetrics struct {
	steps        metric.Int64Counter
	capCalls     metric.Int64Counter
	modelLatency metric.Float64Histogram
	runs         metric.Int64Counter
	errors       metric.Int64Counter
}

// NewLoopMetrics creates the loop instruments on the global meter provider.
func NewLoopMetrics() (*LoopMetrics, error) {
	meter := otel.Meter(instrumentationName)

	steps, err := meter.Int64Counter(
		"harness.loop.steps",
		metric.WithDescription("Model calls made by the orchestration loop"),
	)
	if err != nil {
		return nil, err
	}

	capCalls, err := meter.Int64Counter(
		"harness.capability.calls",
		metric.WithDescription("Capability dispatches by capability, origin and outcome"),
	)
	if err != nil {
		return nil, err
	}

	modelLatency, err := meter.Float64Histogram(
		"harness.model.latency",
		metric.WithDescription("Model call latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(
		"harness.runs",
		metric.WithDescription("Completed task runs by status"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"harness.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &LoopMetrics{
		steps:        steps,
		capCalls:     capCalls,
		modelLatency: modelLatency,
		runs:         runs,
		errors:       errorCounter,
	}, nil
}

// RecordStep counts one model call.
func (m *LoopMetrics) RecordStep(ctx context.Context, model string) {
	if m == nil {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrLLMModel, model)))
}

// RecordModelLatency records how long a model call took.
func (m *LoopMetrics) RecordModelLatency(ctx context.Context, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelLatency.Record(ctx, float64(d.Microseconds())/1000,
		metric.WithAttributes(attribute.String(AttrLLMModel, model)))
}

// RecordCapabilityCall counts one dispatch.
func (m *LoopMetrics) RecordCapabilityCall(ctx context.Context, name, origin string, isError bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.capCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCapabilityName, name),
		attribute.String(AttrCapabilityOrigin, origin),
		attribute.String("outcome", outcome),
	))
}

// RecordRun counts a finished run by status.
func (m *LoopMetrics) RecordRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRunStatus, status)))
}

// RecordError counts err under its error code.
func (m *LoopMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	he := errors.AsHarnessError(err)
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(he.Code)),
		attribute.String("component", component),
		attribute.String("recoverable", he.RecoverableString()),
	))
}
