// Package journal records task runs and the capability calls they made.
package journal

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusFinal     = "final"
	StatusMaxSteps  = "max_steps"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one task submitted to the loop.
type Run struct {
	ID         string
	Task       string
	Model      string
	Status     string
	Steps      int
	Answer     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Step is one capability dispatch within a run.
type Step struct {
	RunID      string
	Index      int
	Capability string
	Arguments  map[string]any
	IsError    bool
	Result     string
	At         time.Time
}

// Filter limits run queries. Runs are returned newest first.
type Filter struct {
	Status string
	Limit  int
}

// Journal persists runs and steps.
type Journal interface {
	// Record inserts or updates a run by ID.
	Record(ctx context.Context, run Run) error
	RecordStep(ctx context.Context, step Step) error
	List(ctx context.Context, filter Filter) ([]Run, error)
	Steps(ctx context.Context, runID string) ([]Step, error)
	Close() error
}

// Memory keeps runs in memory.
type Memory struct {
	mu    sync.Mutex
	runs  []Run
	steps []Step
}

// NewMemory returns an in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) RecordStep(_ context.Context, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return nil
}

func (m *Memory) List(_ context.Context, filter Filter) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		run := m.runs[i]
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Steps(_ context.Context, runID string) ([]Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Step
	for _, s := range m.steps {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func encodeArguments(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeArguments(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// normalizeTime ensures timestamps are in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
