// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires logging, tracing and metrics for the harness.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for harness spans and metrics.
const (
	// Run attributes
	AttrRunID       = "harness.run.id"
	AttrRunTask     = "harness.run.task"
	AttrRunStatus   = "harness.run.status"
	AttrRunStep     = "harness.run.step"
	AttrRunSteps    = "harness.run.steps"
	AttrRunMaxSteps = "harness.run.max_steps"

	// Capability attributes
	AttrCapabilityName    = "harness.capability.name"
	AttrCapabilityOrigin  = "harness.capability.origin"
	AttrCapabilityError   = "harness.capability.error"
	AttrCapabilityArgs    = "harness.capability.arguments"
	AttrCapabilityResult  = "harness.capability.result"
	AttrCapabilitiesCount = "harness.capabilities.count"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
)

const maxTaskAttrLen = 200

// RunAttributes returns attributes for a run span.
func RunAttributes(runID, task string, maxSteps int) []attribute.KeyValue {
	if len(task) > maxTaskAttrLen {
		task = task[:maxTaskAttrLen] + "..."
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrRunTask, task),
	}
	if maxSteps > 0 {
		attrs = append(attrs, attribute.Int(AttrRunMaxSteps, maxSteps))
	}
	return attrs
}

// CapabilityAttributes returns attributes for a dispatch span.
func CapabilityAttributes(name, origin string, isError bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCapabilityName, name),
		attribute.String(AttrCapabilityOrigin, origin),
		attribute.Bool(AttrCapabilityError, isError),
	}
}

// CapabilityArgsResult returns arguments and result attributes, truncated to maxLen.
func CapabilityArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		if len(args) > maxLen {
			args = args[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrCapabilityArgs, args))
	}
	if result != "" {
		if len(result) > maxLen {
			result = result[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrCapabilityResult, result))
	}
	return attrs
}

// LLMAttributes returns attributes for model call spans.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
