package agent

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/jllopis/harness/pkg/capability"
	"github.com/jllopis/harness/pkg/core"
	"github.com/jllopis/harness/pkg/errors"
	"github.com/jllopis/harness/pkg/journal"
	"github.com/jllopis/harness/pkg/llm"
	"github.com/jllopis/harness/pkg/prompt"
)

const echoAction = "Let me check.\n```json\n{\"capability\": \"echo\", \"arguments\": {\"text\": \"hi\"}}\n```"

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Emit(_ context.Context, e core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []core.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func newRegistry(t *testing.T, handler capability.Handler) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	err := reg.RegisterBuiltin(capability.Descriptor{
		Name:        "echo",
		Description: "Echo the given text.",
		Params:      capability.NewSchema(capability.ParamSpec{Name: "text", Type: "string", Required: true}),
	}, handler)
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return reg
}

func echo(_ context.Context, args map[string]any) (string, error) {
	s, _ := args["text"].(string)
	return "echo: " + s, nil
}

func newAgent(t *testing.T, provider llm.Provider, reg *capability.Registry, opts ...Option) *Agent {
	t.Helper()
	base := []Option{WithProvider(provider), WithRegistry(reg), WithModel("test-model")}
	a, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("agent creation failed: %v", err)
	}
	return a
}

func countRole(msgs []llm.Message, role llm.Role, toolResults bool) int {
	n := 0
	for _, m := range msgs {
		if m.Role != role {
			continue
		}
		if role == llm.RoleUser && IsToolResult(m) != toolResults {
			continue
		}
		n++
	}
	return n
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(WithRegistry(capability.NewRegistry())); !stderrors.Is(err, ErrMissingProvider) {
		t.Fatalf("expected ErrMissingProvider, got %v", err)
	}
	if _, err := New(WithProvider(&llm.MockProvider{})); !stderrors.Is(err, ErrMissingRegistry) {
		t.Fatalf("expected ErrMissingRegistry, got %v", err)
	}
	if _, err := New(WithProvider(&llm.MockProvider{}), WithRegistry(capability.NewRegistry()), WithMaxSteps(0)); err == nil {
		t.Fatalf("expected error for a zero step ceiling")
	}
}

func TestRun_PlainAnswerTerminatesAfterOneStep(t *testing.T) {
	provider := llm.NewScriptedMockProvider("The answer is 42.")
	a := newAgent(t, provider, newRegistry(t, echo))
	tr := NewTranscript("")

	res, err := a.Run(context.Background(), "what is the answer?", tr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusFinal || res.Answer != "The answer is 42." || res.Steps != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if provider.Calls() != 1 {
		t.Fatalf("expected exactly one model call, got %d", provider.Calls())
	}
	msgs := tr.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected system, user and assistant turns, got %d", len(msgs))
	}
	if msgs[1].Content != "what is the answer?" || msgs[2].Role != llm.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestRun_StepCeiling(t *testing.T) {
	const ceiling = 3
	provider := llm.NewScriptedMockProvider(echoAction)
	provider.Repeat = true
	a := newAgent(t, provider, newRegistry(t, echo), WithMaxSteps(ceiling))
	tr := NewTranscript("")

	res, err := a.Run(context.Background(), "loop forever", tr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusMaxSteps || res.Answer != MaxStepsAnswer {
		t.Fatalf("expected the ceiling sentinel, got %+v", res)
	}
	if provider.Calls() != ceiling {
		t.Fatalf("expected %d model calls, got %d", ceiling, provider.Calls())
	}

	msgs := tr.Messages()
	if got := countRole(msgs, llm.RoleAssistant, false); got != ceiling {
		t.Errorf("expected %d assistant turns, got %d", ceiling, got)
	}
	if got := countRole(msgs, llm.RoleUser, true); got != ceiling {
		t.Errorf("expected %d tool result turns, got %d", ceiling, got)
	}
	if got := countRole(msgs, llm.RoleUser, false); got != 1 {
		t.Errorf("expected one genuine user turn, got %d", got)
	}
	if len(msgs) != 1+1+2*ceiling {
		t.Errorf("expected %d turns, got %d", 2+2*ceiling, len(msgs))
	}
}

func TestRun_ToolResultFedBack(t *testing.T) {
	provider := llm.NewScriptedMockProvider(echoAction, "Done: it said hi.")
	a := newAgent(t, provider, newRegistry(t, echo))
	tr := NewTranscript("")

	res, err := a.Run(context.Background(), "say hi", tr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Answer != "Done: it said hi." || res.Steps != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	second := provider.Requests[1]
	if second.Model != "test-model" {
		t.Fatalf("expected model to be forwarded, got %q", second.Model)
	}
	if len(second.Messages) != 4 {
		t.Fatalf("expected the full transcript on the second call, got %d turns", len(second.Messages))
	}
	if last := second.Messages[3]; last.Content != "Tool result:\necho: hi" {
		t.Fatalf("unexpected tool result turn %q", last.Content)
	}
}

func TestRun_UnknownCapabilityContinues(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		`{"capability": "delete_everything", "arguments": {}}`,
		"Sorry, I cannot do that.",
	)
	a := newAgent(t, provider, newRegistry(t, echo))
	tr := NewTranscript("")

	res, err := a.Run(context.Background(), "clean up", tr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusFinal || provider.Calls() != 2 {
		t.Fatalf("expected the loop to continue after an unknown capability: %+v", res)
	}
	toolTurn := tr.Messages()[3]
	if !IsToolResult(toolTurn) || !strings.Contains(toolTurn.Content, "Unknown capability 'delete_everything'") {
		t.Fatalf("unexpected tool result %q", toolTurn.Content)
	}
}

func TestRun_CapabilityErrorIsData(t *testing.T) {
	failing := func(context.Context, map[string]any) (string, error) {
		return "", stderrors.New("disk full")
	}
	provider := llm.NewScriptedMockProvider(echoAction, "I could not write it.")
	a := newAgent(t, provider, newRegistry(t, failing))
	tr := NewTranscript("")

	res, err := a.Run(context.Background(), "write", tr)
	if err != nil {
		t.Fatalf("capability faults must not surface as errors: %v", err)
	}
	if res.Status != StatusFinal {
		t.Fatalf("unexpected status %s", res.Status)
	}
	if !strings.Contains(tr.Messages()[3].Content, "disk full") {
		t.Fatalf("expected the fault text in the transcript, got %q", tr.Messages()[3].Content)
	}
}

func TestRun_ModelFaultPropagates(t *testing.T) {
	provider := llm.NewScriptedMockProvider()
	provider.Err = stderrors.New("connection refused")
	a := newAgent(t, provider, newRegistry(t, echo))
	tr := NewTranscript("")

	_, err := a.Run(context.Background(), "hello", tr)
	if err == nil {
		t.Fatalf("expected a model backend error")
	}
	if errors.CodeOf(err) != errors.CodeLLMError {
		t.Fatalf("expected LLM_ERROR, got %v", errors.CodeOf(err))
	}
	if tr.Len() != 2 {
		t.Fatalf("expected system and user turns to remain, got %d", tr.Len())
	}
}

func TestRun_InterruptDuringDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupting := func(context.Context, map[string]any) (string, error) {
		cancel()
		return "partial", nil
	}
	provider := llm.NewScriptedMockProvider(echoAction, "never reached")
	j := journal.NewMemory()
	a := newAgent(t, provider, newRegistry(t, interrupting), WithJournal(j))
	tr := NewTranscript("")

	res, err := a.Run(ctx, "do it", tr)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.CodeOf(err) != errors.CodeCancelled {
		t.Fatalf("expected CANCELLED, got %v", errors.CodeOf(err))
	}
	if provider.Calls() != 1 {
		t.Fatalf("loop must not continue after an interrupt")
	}
	msgs := tr.Messages()
	if len(msgs) != 3 || msgs[2].Role != llm.RoleAssistant {
		t.Fatalf("expected the assistant turn kept and no tool result, got %+v", msgs)
	}

	runs, _ := j.List(context.Background(), journal.Filter{})
	if len(runs) != 1 || runs[0].ID != res.RunID || runs[0].Status != journal.StatusCancelled {
		t.Fatalf("expected a cancelled run in the journal, got %+v", runs)
	}
}

func TestRun_SystemTurnCarriesCapabilityDocs(t *testing.T) {
	provider := llm.NewScriptedMockProvider("ok")
	a := newAgent(t, provider, newRegistry(t, echo), WithRules(prompt.Rules{FilesystemRoot: "/src"}))
	tr := NewTranscript("stale")

	if _, err := a.Run(context.Background(), "hi", tr); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sys := provider.Requests[0].Messages[0]
	if sys.Role != llm.RoleSystem {
		t.Fatalf("expected the system turn first")
	}
	if !strings.Contains(sys.Content, "- echo(text: string): Echo the given text.") {
		t.Fatalf("expected capability docs in the system turn:\n%s", sys.Content)
	}
	if !strings.Contains(sys.Content, "/src") {
		t.Fatalf("expected the filesystem root rule in the system turn")
	}
	if sys.Content != a.SystemPrompt() {
		t.Fatalf("expected SystemPrompt to match the injected turn")
	}
}

func TestRun_SessionAccumulates(t *testing.T) {
	provider := llm.NewScriptedMockProvider("first", "second")
	a := newAgent(t, provider, newRegistry(t, echo))
	tr := NewTranscript("")

	for _, task := range []string{"one", "two"} {
		if _, err := a.Run(context.Background(), task, tr); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	if tr.Len() != 5 {
		t.Fatalf("expected one system turn plus two exchanges, got %d", tr.Len())
	}
	if got := countRole(tr.Messages(), llm.RoleSystem, false); got != 1 {
		t.Fatalf("expected exactly one system turn, got %d", got)
	}
}

func TestRun_EventsAndJournal(t *testing.T) {
	provider := llm.NewScriptedMockProvider(echoAction, "all done")
	events := &eventLog{}
	j := journal.NewMemory()
	a := newAgent(t, provider, newRegistry(t, echo), WithEventEmitter(events), WithJournal(j))

	res, err := a.Run(context.Background(), "echo hi", NewTranscript(""))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []core.EventType{
		core.EventTaskStarted,
		core.EventActionDispatched,
		core.EventActionResult,
		core.EventTaskCompleted,
	}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	for _, e := range events.events {
		if e.RunID != res.RunID {
			t.Fatalf("event %s carries run id %q, want %q", e.Type, e.RunID, res.RunID)
		}
	}
	if events.events[1].String("origin") != capability.OriginBuiltin {
		t.Fatalf("expected dispatch event to name the builtin origin")
	}

	runs, err := j.List(context.Background(), journal.Filter{})
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one journaled run, got %v (%v)", runs, err)
	}
	if runs[0].Status != journal.StatusFinal || runs[0].Answer != "all done" || runs[0].Steps != 2 {
		t.Fatalf("unexpected journaled run: %+v", runs[0])
	}
	steps, _ := j.Steps(context.Background(), res.RunID)
	if len(steps) != 1 || steps[0].Capability != "echo" || steps[0].Result != "echo: hi" {
		t.Fatalf("unexpected journaled steps: %+v", steps)
	}
}

func TestRun_TokenBudgetEvent(t *testing.T) {
	big := func(context.Context, map[string]any) (string, error) {
		return strings.Repeat("x", 400), nil
	}
	provider := llm.NewScriptedMockProvider(echoAction, echoAction, "done")
	events := &eventLog{}
	a := newAgent(t, provider, newRegistry(t, big), WithTokenBudget(10), WithEventEmitter(events))

	if _, err := a.Run(context.Background(), "grow", NewTranscript("")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	n := 0
	for _, typ := range events.types() {
		if typ == core.EventContextBudget {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one budget event per run, got %d", n)
	}
}

func TestRun_NilTranscript(t *testing.T) {
	a := newAgent(t, llm.NewScriptedMockProvider("x"), newRegistry(t, echo))
	if _, err := a.Run(context.Background(), "x", nil); errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestRun_ZeroTranscript(t *testing.T) {
	provider := llm.NewScriptedMockProvider(echoAction, "done")
	a := newAgent(t, provider, newRegistry(t, echo))
	var tr Transcript

	res, err := a.Run(context.Background(), "say hi", &tr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Answer != "done" || res.Steps != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	msgs := provider.Requests[0].Messages
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "say hi" {
		t.Fatalf("expected system then user turn, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "echo") {
		t.Fatalf("expected capability docs in the system turn")
	}
}
