package agent

import (
	"strings"

	"github.com/jllopis/harness/pkg/llm"
)

// ToolResultPrefix marks user turns that carry a capability result rather
// than genuine user input.
const ToolResultPrefix = "Tool result:\n"

// Transcript is the ordered conversation sent to the model.
//
// The first turn is always the single system turn. Other turns are only
// appended; Reset is the one operation that discards them. The zero value
// is an empty transcript with a blank system turn. A Transcript is owned by
// one caller and must not be used while Run is in flight.
type Transcript struct {
	turns []llm.Message
}

// NewTranscript returns a transcript holding only the system turn.
func NewTranscript(system string) *Transcript {
	return &Transcript{turns: []llm.Message{{Role: llm.RoleSystem, Content: system}}}
}

// system returns the system turn, creating it on a zero Transcript.
func (t *Transcript) system() *llm.Message {
	if len(t.turns) == 0 {
		t.turns = append(t.turns, llm.Message{Role: llm.RoleSystem})
	}
	return &t.turns[0]
}

// System returns the system turn text.
func (t *Transcript) System() string { return t.system().Content }

// SetSystem replaces the system turn text in place.
func (t *Transcript) SetSystem(content string) { t.system().Content = content }

// AppendUser appends genuine user input.
func (t *Transcript) AppendUser(content string) {
	t.append(llm.RoleUser, content)
}

// AppendAssistant appends a raw model reply.
func (t *Transcript) AppendAssistant(content string) {
	t.append(llm.RoleAssistant, content)
}

// AppendToolResult appends a capability result as a marked user turn.
func (t *Transcript) AppendToolResult(result string) {
	t.append(llm.RoleUser, ToolResultPrefix+result)
}

func (t *Transcript) append(role llm.Role, content string) {
	t.system()
	t.turns = append(t.turns, llm.Message{Role: role, Content: content})
}

// Messages returns a copy of all turns, system turn first.
func (t *Transcript) Messages() []llm.Message {
	t.system()
	out := make([]llm.Message, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns including the system turn.
func (t *Transcript) Len() int {
	t.system()
	return len(t.turns)
}

// Reset drops every turn except the system turn.
func (t *Transcript) Reset() {
	t.system()
	t.turns = t.turns[:1:1]
}

// Recent returns up to n of the latest non-system turns, oldest first.
func (t *Transcript) Recent(n int) []llm.Message {
	t.system()
	rest := t.turns[1:]
	if n >= 0 && len(rest) > n {
		rest = rest[len(rest)-n:]
	}
	out := make([]llm.Message, len(rest))
	copy(out, rest)
	return out
}

// IsToolResult reports whether m is a capability result turn.
func IsToolResult(m llm.Message) bool {
	return m.Role == llm.RoleUser && strings.HasPrefix(m.Content, ToolResultPrefix)
}

// Stats summarizes a transcript.
type Stats struct {
	Messages        int
	UserInputs      int
	ToolResults     int
	Characters      int
	EstimatedTokens int
}

// Stats counts turns by kind and estimates tokens at four characters each.
func (t *Transcript) Stats() Stats {
	t.system()
	var s Stats
	s.Messages = len(t.turns)
	for _, m := range t.turns {
		s.Characters += len(m.Content)
		if m.Role != llm.RoleUser {
			continue
		}
		if IsToolResult(m) {
			s.ToolResults++
		} else {
			s.UserInputs++
		}
	}
	s.EstimatedTokens = s.Characters / 4
	return s
}
