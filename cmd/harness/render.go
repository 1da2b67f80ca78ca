package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/jllopis/harness/pkg/agent"
	"github.com/jllopis/harness/pkg/core"
	"github.com/mattn/go-isatty"
)

const (
	maxArgChars    = 50
	maxResultChars = 200
)

// renderer prints loop events as they happen. In JSON mode it stays quiet
// so stdout carries only the result object.
type renderer struct {
	w     io.Writer
	quiet bool

	action *color.Color
	failed *color.Color
	warn   *color.Color
	dim    *color.Color
}

func newRenderer(w io.Writer, quiet bool) *renderer {
	r := &renderer{
		w:      w,
		quiet:  quiet,
		action: color.New(color.FgCyan),
		failed: color.New(color.FgRed),
		warn:   color.New(color.FgYellow),
		dim:    color.New(color.Faint),
	}
	if !isTerminal(w) {
		for _, c := range []*color.Color{r.action, r.failed, r.warn, r.dim} {
			c.DisableColor()
		}
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Emit implements core.EventEmitter.
func (r *renderer) Emit(_ context.Context, event core.Event) {
	if r.quiet {
		return
	}
	switch event.Type {
	case core.EventActionDispatched:
		args, _ := event.Payload["arguments"].(map[string]any)
		r.action.Fprintf(r.w, "  -> %s(%s)\n", event.String("capability"), formatArgs(args))
	case core.EventActionResult:
		if isErr, _ := event.Payload["is_error"].(bool); isErr {
			r.failed.Fprintf(r.w, "  ! %s\n", truncate(oneLine(event.String("result")), maxResultChars))
		}
	case core.EventStepLimit:
		r.warn.Fprintf(r.w, "  Step limit reached (%v steps)\n", event.Payload["max_steps"])
	case core.EventContextBudget:
		r.warn.Fprintf(r.w, "  Context is ~%v tokens, over the %v token budget\n",
			event.Payload["estimated_tokens"], event.Payload["budget"])
	}
}

// answer prints the final answer of a run.
func (r *renderer) answer(res agent.Result) {
	if res.Status == agent.StatusMaxSteps {
		r.warn.Fprintln(r.w, res.Answer)
		return
	}
	fmt.Fprintln(r.w, res.Answer)
}

// formatArgs renders arguments as k=v pairs sorted by key, each value JSON
// encoded and truncated.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(args[k])
		value := string(raw)
		if err != nil {
			value = fmt.Sprint(args[k])
		}
		parts = append(parts, k+"="+truncate(value, maxArgChars))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
