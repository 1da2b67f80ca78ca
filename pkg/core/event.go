package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted while a task runs.
type EventType string

const (
	EventTaskStarted      EventType = "task.started"
	EventActionDispatched EventType = "action.dispatched"
	EventActionResult     EventType = "action.result"
	EventTaskCompleted    EventType = "task.completed"
	EventStepLimit        EventType = "task.step_limit"
	EventTaskFailed       EventType = "task.failed"
	EventContextBudget    EventType = "context.budget"
)

// Event captures one step of a run for front-ends and logs.
type Event struct {
	Type      EventType
	RunID     string
	Step      int
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, runID string, step int, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Step:      step,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// String returns a payload value as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
