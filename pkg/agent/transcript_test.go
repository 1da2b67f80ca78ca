package agent

import (
	"testing"

	"github.com/jllopis/harness/pkg/llm"
)

func TestTranscript_SystemTurnFirstAndUnique(t *testing.T) {
	tr := NewTranscript("rules v1")
	tr.AppendUser("list files")
	tr.AppendAssistant(`{"capability": "list_directory"}`)
	tr.AppendToolResult("a.go\nb.go")
	tr.SetSystem("rules v2")

	msgs := tr.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "rules v2" {
		t.Fatalf("expected updated system turn first, got %+v", msgs[0])
	}
	for _, m := range msgs[1:] {
		if m.Role == llm.RoleSystem {
			t.Fatalf("found a second system turn")
		}
	}
	if msgs[3].Content != "Tool result:\na.go\nb.go" {
		t.Fatalf("unexpected tool result turn %q", msgs[3].Content)
	}
}

func TestTranscript_MessagesIsACopy(t *testing.T) {
	tr := NewTranscript("sys")
	tr.AppendUser("hi")
	msgs := tr.Messages()
	msgs[1].Content = "mutated"
	if tr.Messages()[1].Content != "hi" {
		t.Fatalf("Messages must not alias the transcript")
	}
}

func TestTranscript_Reset(t *testing.T) {
	tr := NewTranscript("sys")
	tr.AppendUser("one")
	tr.AppendAssistant("two")
	tr.Reset()

	if tr.Len() != 1 || tr.System() != "sys" {
		t.Fatalf("expected only the system turn after reset, got %+v", tr.Messages())
	}
	tr.AppendUser("again")
	if tr.Len() != 2 {
		t.Fatalf("expected appends to work after reset")
	}
}

func TestTranscript_ZeroValue(t *testing.T) {
	var tr Transcript
	if tr.System() != "" || tr.Len() != 1 {
		t.Fatalf("expected a blank system turn, got %+v", tr.Messages())
	}
	if got := tr.Recent(5); len(got) != 0 {
		t.Fatalf("expected no recent turns, got %+v", got)
	}

	var fresh Transcript
	fresh.AppendUser("hello")
	msgs := fresh.Messages()
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "hello" {
		t.Fatalf("expected system turn before the first append, got %+v", msgs)
	}

	var cleared Transcript
	cleared.Reset()
	cleared.SetSystem("sys")
	if cleared.System() != "sys" || cleared.Stats().Messages != 1 {
		t.Fatalf("unexpected transcript after reset: %+v", cleared.Messages())
	}
}

func TestTranscript_Stats(t *testing.T) {
	tr := NewTranscript("12345678")
	tr.AppendUser("fix the bug")
	tr.AppendAssistant("reading")
	tr.AppendToolResult("ok")
	tr.AppendAssistant("done")

	s := tr.Stats()
	if s.Messages != 5 {
		t.Errorf("expected 5 messages, got %d", s.Messages)
	}
	if s.UserInputs != 1 || s.ToolResults != 1 {
		t.Errorf("expected 1 input and 1 tool result, got %d and %d", s.UserInputs, s.ToolResults)
	}
	chars := len("12345678") + len("fix the bug") + len("reading") + len(ToolResultPrefix+"ok") + len("done")
	if s.Characters != chars || s.EstimatedTokens != chars/4 {
		t.Errorf("unexpected size estimate: %+v", s)
	}
}

func TestTranscript_Recent(t *testing.T) {
	tr := NewTranscript("sys")
	for _, s := range []string{"a", "b", "c"} {
		tr.AppendUser(s)
	}

	got := tr.Recent(2)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Fatalf("unexpected recent turns: %+v", got)
	}
	if all := tr.Recent(10); len(all) != 3 {
		t.Fatalf("expected all non-system turns, got %d", len(all))
	}
}
