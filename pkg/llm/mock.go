package llm

import (
	"context"
	"sync/atomic"
)

// MockProvider answers every request with the same reply. It backs the
// "mock" provider setting and tests that do not care about turn order.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	calls atomic.Int64
}

// Chat implements Provider. A done context is reported before anything else.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.calls.Add(1)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   estimateUsage(req.Messages, m.Response),
	}, nil
}

// Calls returns how many times Chat was invoked.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// estimateUsage approximates token counts at four characters per token.
func estimateUsage(messages []Message, reply string) Usage {
	prompt := 0
	for _, msg := range messages {
		prompt += len(msg.Content)
	}
	u := Usage{PromptTokens: prompt / 4, CompletionTokens: len(reply) / 4}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
