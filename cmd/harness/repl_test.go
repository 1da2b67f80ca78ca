package main

import (
	"context"
	"strings"
	"testing"

	"github.com/jllopis/harness/pkg/llm"
)

func TestSessionCommands(t *testing.T) {
	provider := llm.NewScriptedMockProvider("first answer", "second answer")
	a, stdout, _ := newTestApp(t, testConfig(t), provider, false)
	s := newSession(a, strings.NewReader(""), false)
	ctx := context.Background()

	s.runTask(ctx, "hello there")

	tests := []struct {
		line string
		want string
	}{
		{"/tools", "semantic_search [builtin]"},
		{"/context", "User inputs:   1"},
		{"/history", "[You] hello there"},
		{"/config", "Model:           test-model (mock)"},
		{"/runs", "final"},
		{"/help", "/index [dir]"},
		{"/bogus", "Unknown command: /bogus. Type /help for commands."},
	}
	for _, tt := range tests {
		stdout.Reset()
		if s.handleCommand(ctx, tt.line) {
			t.Fatalf("%s should not end the session", tt.line)
		}
		if !strings.Contains(stdout.String(), tt.want) {
			t.Fatalf("%s: expected %q in %q", tt.line, tt.want, stdout.String())
		}
	}

	for _, quit := range []string{"/quit", "/exit", "/q"} {
		if !s.handleCommand(ctx, quit) {
			t.Fatalf("%s should end the session", quit)
		}
	}
}

func TestSessionClear(t *testing.T) {
	provider := llm.NewScriptedMockProvider("a", "b")
	a, _, _ := newTestApp(t, testConfig(t), provider, false)
	s := newSession(a, strings.NewReader(""), false)
	ctx := context.Background()

	s.runTask(ctx, "one")
	s.handleCommand(ctx, "/clear")
	s.runTask(ctx, "two")

	msgs := provider.Requests[1].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected system and user turns after /clear, got %d", len(msgs))
	}
	if msgs[1].Content != "two" {
		t.Fatalf("unexpected user turn %q", msgs[1].Content)
	}
}

func TestSessionSharesTranscript(t *testing.T) {
	provider := llm.NewScriptedMockProvider("a", "b")
	a, _, _ := newTestApp(t, testConfig(t), provider, false)
	s := newSession(a, strings.NewReader("one\ntwo\n"), false)

	if code := s.loop(context.Background()); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := len(provider.Requests[1].Messages); got != 4 {
		t.Fatalf("expected 4 turns in the second request, got %d", got)
	}
}

func TestSessionIndexDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.Enabled = false
	a, stdout, _ := newTestApp(t, cfg, llm.NewScriptedMockProvider("ok"), false)
	s := newSession(a, strings.NewReader(""), false)

	s.handleCommand(context.Background(), "/index")
	if !strings.Contains(stdout.String(), "Semantic search is disabled") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestSessionAppliesReloadedConfig(t *testing.T) {
	provider := llm.NewScriptedMockProvider("ok")
	a, _, _ := newTestApp(t, testConfig(t), provider, false)
	s := newSession(a, strings.NewReader(""), false)

	next := testConfig(t)
	next.LLM.Model = "other-model"
	next.Agent.MaxSteps = 9
	s.queueConfig(next)
	s.runTask(context.Background(), "task")

	if a.agent.Model() != "other-model" || a.agent.MaxSteps() != 9 {
		t.Fatalf("config not applied: model=%s max_steps=%d", a.agent.Model(), a.agent.MaxSteps())
	}
	if provider.Requests[0].Model != "other-model" {
		t.Fatalf("expected request to use the reloaded model, got %s", provider.Requests[0].Model)
	}
	if s.pending.Load() != nil {
		t.Fatalf("pending config should be consumed")
	}
}

func TestSessionInterruptWhenIdle(t *testing.T) {
	a, stdout, _ := newTestApp(t, testConfig(t), llm.NewScriptedMockProvider("ok"), false)
	s := newSession(a, strings.NewReader(""), true)
	s.interrupt()
	if !strings.Contains(stdout.String(), "Interrupted. Type /quit to exit.") {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.interrupt()
	if ctx.Err() == nil {
		t.Fatalf("expected the running task to be cancelled")
	}
}
