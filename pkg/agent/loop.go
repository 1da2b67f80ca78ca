// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jllopis/harness/pkg/action"
	"github.com/jllopis/harness/pkg/capability"
	"github.com/jllopis/harness/pkg/core"
	"github.com/jllopis/harness/pkg/errors"
	"github.com/jllopis/harness/pkg/journal"
	"github.com/jllopis/harness/pkg/llm"
	"github.com/jllopis/harness/pkg/prompt"
	"github.com/jllopis/harness/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxStepsAnswer is returned as the answer when the ceiling is reached.
const MaxStepsAnswer = "Error: Max steps reached without completion"

// Status of a finished run.
type Status string

const (
	StatusFinal    Status = "final"
	StatusMaxSteps Status = "max_steps"
)

// Result is the outcome of one Run.
type Result struct {
	RunID  string
	Answer string
	Status Status
	// Steps counts model calls.
	Steps int
}

// Run appends task to tr and loops until the model answers without an
// action or the ceiling is reached. Capability faults are fed back to the
// model as tool results. A model backend fault or an interrupt ends the
// run with an error; turns appended until then stay in tr.
func (a *Agent) Run(ctx context.Context, task string, tr *Transcript) (Result, error) {
	if tr == nil {
		return Result{}, NewInvalidInputError("agent: transcript is required")
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := a.tracer.Start(ctx, "Agent.Run")
	defer span.End()
	span.SetAttributes(telemetry.RunAttributes(runID, task, a.maxSteps)...)
	log := a.logger.With(slog.String("run_id", runID))

	// The snapshot is fixed for the whole run so the documented
	// capabilities and the dispatch table always agree.
	snap := a.registry.Snapshot()
	tr.SetSystem(prompt.Build(snap.Docs(), a.rules))
	tr.AppendUser(task)

	run := journal.Run{
		ID:        runID,
		Task:      task,
		Model:     a.model,
		Status:    journal.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	a.record(ctx, log, run)

	log.Info("agent.run.start",
		slog.String("model", a.model),
		slog.Int("max_steps", a.maxSteps),
		slog.Int("capabilities", snap.Len()),
	)
	a.emit(ctx, core.EventTaskStarted, runID, 0, map[string]any{
		"task":         task,
		"model":        a.model,
		"capabilities": snap.Len(),
	})

	budgetWarned := false
	for step := 1; step <= a.maxSteps; step++ {
		reply, err := a.step(ctx, log, runID, step, tr)
		if err != nil {
			return a.fail(ctx, log, span, run, step, err)
		}

		req, ok := action.Extract(reply)
		tr.AppendAssistant(reply)
		if !ok {
			run.Steps = step
			return a.finish(ctx, log, span, run, StatusFinal, reply), nil
		}

		res, err := a.dispatch(ctx, log, snap, runID, step, req)
		if err != nil {
			return a.fail(ctx, log, span, run, step, err)
		}
		tr.AppendToolResult(res.Text)

		if !budgetWarned && a.tokenBudget > 0 {
			if stats := tr.Stats(); stats.EstimatedTokens > a.tokenBudget {
				budgetWarned = true
				log.Warn("agent.context.budget_exceeded",
					slog.Int("estimated_tokens", stats.EstimatedTokens),
					slog.Int("budget", a.tokenBudget),
				)
				a.emit(ctx, core.EventContextBudget, runID, step, map[string]any{
					"estimated_tokens": stats.EstimatedTokens,
					"budget":           a.tokenBudget,
				})
			}
		}
	}

	run.Steps = a.maxSteps
	log.Warn("agent.run.step_limit", slog.Int("max_steps", a.maxSteps))
	a.emit(ctx, core.EventStepLimit, runID, a.maxSteps, map[string]any{"max_steps": a.maxSteps})
	return a.finish(ctx, log, span, run, StatusMaxSteps, MaxStepsAnswer), nil
}

// step performs the single model call of one step.
func (a *Agent) step(ctx context.Context, log *slog.Logger, runID string, step int, tr *Transcript) (string, error) {
	ctx, span := a.tracer.Start(ctx, "Agent.Step",
		trace.WithAttributes(attribute.Int(telemetry.AttrRunStep, step)))
	defer span.End()

	messages := tr.Messages()
	span.SetAttributes(telemetry.LLMAttributes(a.model, a.providerName, len(messages))...)

	a.metrics.RecordStep(ctx, a.model)
	start := time.Now()
	resp, err := a.provider.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: messages})
	elapsed := time.Since(start)
	a.metrics.RecordModelLatency(ctx, a.model, elapsed)

	if err == nil && resp == nil {
		err = errors.New(errors.CodeLLMError, "model returned no reply", nil)
	}
	if err != nil {
		he := WrapLLMError(ctx, err, a.model, step)
		span.RecordError(he)
		span.SetStatus(codes.Error, he.Message)
		log.Error("agent.llm.error",
			slog.Int("step", step),
			slog.String("error", err.Error()),
			slog.String("error_code", string(he.Code)),
		)
		return "", he
	}

	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, float64(elapsed.Milliseconds()))...)
	log.Debug("agent.llm.reply",
		slog.Int("step", step),
		slog.Int("chars", len(resp.Content)),
		slog.Duration("latency", elapsed),
	)
	return resp.Content, nil
}

// dispatch invokes req through the run's snapshot. The only error it
// returns is an interrupt; every capability fault is a Result.
func (a *Agent) dispatch(ctx context.Context, log *slog.Logger, snap *capability.Snapshot, runID string, step int, req action.Request) (capability.Result, error) {
	origin := ""
	if c, ok := snap.Lookup(req.Capability); ok {
		origin = c.Descriptor().Origin
	}

	ctx, span := a.tracer.Start(ctx, "Capability.Invoke")
	defer span.End()

	args := encodeArgs(req.Arguments)
	log.Info("agent.action.dispatch",
		slog.Int("step", step),
		slog.String("capability", req.Capability),
		slog.String("origin", origin),
		slog.String("method", string(req.Method)),
	)
	a.emit(ctx, core.EventActionDispatched, runID, step, map[string]any{
		"capability": req.Capability,
		"origin":     origin,
		"arguments":  req.Arguments,
	})

	res := snap.Dispatch(ctx, req.Capability, req.Arguments)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "interrupted")
		return capability.Result{}, WrapCancelled(err, "capability "+req.Capability, step)
	}

	span.SetAttributes(telemetry.CapabilityAttributes(req.Capability, origin, res.IsError)...)
	span.SetAttributes(telemetry.CapabilityArgsResult(args, res.Text, 200)...)
	if res.IsError {
		span.SetStatus(codes.Error, "capability returned an error result")
		log.Warn("agent.action.error",
			slog.Int("step", step),
			slog.String("capability", req.Capability),
			slog.String("result", res.Text),
		)
	}
	a.metrics.RecordCapabilityCall(ctx, req.Capability, origin, res.IsError)

	a.emit(ctx, core.EventActionResult, runID, step, map[string]any{
		"capability": req.Capability,
		"is_error":   res.IsError,
		"result":     res.Text,
	})
	if a.journal != nil {
		err := a.journal.RecordStep(ctx, journal.Step{
			RunID:      runID,
			Index:      step,
			Capability: req.Capability,
			Arguments:  req.Arguments,
			IsError:    res.IsError,
			Result:     res.Text,
			At:         time.Now().UTC(),
		})
		if err != nil {
			log.Warn("agent.journal.error", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (a *Agent) finish(ctx context.Context, log *slog.Logger, span trace.Span, run journal.Run, status Status, answer string) Result {
	run.Status = string(status)
	run.Answer = answer
	run.FinishedAt = time.Now().UTC()
	a.record(ctx, log, run)
	a.metrics.RecordRun(ctx, string(status))

	span.SetAttributes(
		attribute.String(telemetry.AttrRunStatus, string(status)),
		attribute.Int(telemetry.AttrRunSteps, run.Steps),
	)
	log.Info("agent.run.complete",
		slog.String("status", string(status)),
		slog.Int("steps", run.Steps),
		slog.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
	a.emit(ctx, core.EventTaskCompleted, run.ID, run.Steps, map[string]any{
		"status": string(status),
		"answer": answer,
	})
	return Result{RunID: run.ID, Answer: answer, Status: status, Steps: run.Steps}
}

func (a *Agent) fail(ctx context.Context, log *slog.Logger, span trace.Span, run journal.Run, step int, err error) (Result, error) {
	code := errors.CodeOf(err)
	run.Status = journal.StatusFailed
	if code == errors.CodeCancelled {
		run.Status = journal.StatusCancelled
	}
	run.Steps = step
	run.Error = err.Error()
	run.FinishedAt = time.Now().UTC()

	// The caller's context may already be done; bookkeeping still has to land.
	bg := context.WithoutCancel(ctx)
	a.record(bg, log, run)
	a.metrics.RecordRun(bg, run.Status)
	a.metrics.RecordError(bg, err, "agent")

	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	span.SetAttributes(attribute.String(telemetry.AttrRunStatus, run.Status))
	log.Error("agent.run.error",
		slog.Int("step", step),
		slog.String("error", err.Error()),
		slog.String("error_code", string(code)),
	)
	a.emit(bg, core.EventTaskFailed, run.ID, step, map[string]any{
		"error":      err.Error(),
		"error_code": string(code),
	})
	return Result{RunID: run.ID, Steps: step}, err
}

func (a *Agent) record(ctx context.Context, log *slog.Logger, run journal.Run) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(ctx, run); err != nil {
		log.Warn("agent.journal.error", slog.String("error", err.Error()))
	}
}

func (a *Agent) emit(ctx context.Context, eventType core.EventType, runID string, step int, payload map[string]any) {
	a.emitter.Emit(ctx, core.NewEvent(eventType, runID, step, payload))
}

func encodeArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}
