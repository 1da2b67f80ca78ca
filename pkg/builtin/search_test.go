// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jllopis/harness/pkg/capability"
	"github.com/jllopis/harness/pkg/memory"
)

type stubSearcher struct {
	results   []memory.SearchResult
	err       error
	lastQuery string
	lastLimit int
}

func (s *stubSearcher) Search(ctx context.Context, query string, limit int) ([]memory.SearchResult, error) {
	s.lastQuery, s.lastLimit = query, limit
	return s.results, s.err
}

func hit(path, lang, content string, score float32) memory.SearchResult {
	return memory.SearchResult{ID: path, Score: score, Point: memory.Point{Payload: map[string]any{
		"path": path, "language": lang, "content": content,
	}}}
}

func TestSemanticSearch_Format(t *testing.T) {
	s := &stubSearcher{results: []memory.SearchResult{
		hit("pkg/a.go", "go", "func A() {}", 0.95),
		hit("b.py", "python", "def b(): pass", 0.5),
	}}
	reg := capability.NewRegistry()
	if err := RegisterSearch(reg, s); err != nil {
		t.Fatalf("RegisterSearch: %v", err)
	}

	res := reg.Dispatch(context.Background(), SearchName, map[string]any{"query": "find A"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	want := "## pkg/a.go (score: 0.950)\n```go\nfunc A() {}\n```\n\n## b.py (score: 0.500)\n```python\ndef b(): pass\n```"
	if res.Text != want {
		t.Fatalf("unexpected output:\n%s", res.Text)
	}
	if s.lastQuery != "find A" || s.lastLimit != defaultSearchLimit {
		t.Fatalf("unexpected search call %q %d", s.lastQuery, s.lastLimit)
	}
}

func TestSemanticSearch_Truncates(t *testing.T) {
	long := strings.Repeat("x", maxResultChars+10)
	got := FormatResults([]memory.SearchResult{hit("a.go", "go", long, 1)})
	if !strings.Contains(got, strings.Repeat("x", maxResultChars)+"\n... (truncated)\n```") {
		t.Fatalf("expected truncated content, got %q", got[len(got)-40:])
	}
}

func TestSemanticSearch_TruncatesOnRuneBoundary(t *testing.T) {
	long := "x" + strings.Repeat("é", maxResultChars)
	got := FormatResults([]memory.SearchResult{hit("a.go", "go", long, 1)})
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a multibyte character: %q", got[len(got)-40:])
	}
	want := "x" + strings.Repeat("é", maxResultChars-1) + "\n... (truncated)\n```"
	if !strings.Contains(got, want) {
		t.Fatalf("expected %d characters kept, got %q", maxResultChars, got[len(got)-40:])
	}

	short := strings.Repeat("é", maxResultChars)
	if got := FormatResults([]memory.SearchResult{hit("a.go", "go", short, 1)}); strings.Contains(got, "truncated") {
		t.Fatalf("content of exactly %d characters should not be truncated", maxResultChars)
	}
}

func TestSemanticSearch_NoResultsAndErrors(t *testing.T) {
	h := SearchHandler(&stubSearcher{})
	out, err := h(context.Background(), map[string]any{"query": "q"})
	if err != nil || out != "No results found." {
		t.Fatalf("expected no results, got %q %v", out, err)
	}

	h = SearchHandler(&stubSearcher{err: errors.New("qdrant unavailable")})
	out, err = h(context.Background(), map[string]any{"query": "q"})
	if err != nil || out != "Search error: qdrant unavailable" {
		t.Fatalf("expected search error text, got %q %v", out, err)
	}

	if _, err := h(context.Background(), map[string]any{"query": "  "}); err == nil {
		t.Fatalf("expected error for blank query")
	}
}

func TestSemanticSearch_Limit(t *testing.T) {
	tests := []struct {
		name  string
		limit any
		want  int
	}{
		{"absent", nil, 5},
		{"json number", json.Number("3"), 3},
		{"float", float64(7), 7},
		{"string", "2", 2},
		{"zero", json.Number("0"), 5},
		{"capped", json.Number("500"), maxSearchLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubSearcher{}
			args := map[string]any{"query": "q"}
			if tt.limit != nil {
				args["limit"] = tt.limit
			}
			if _, err := SearchHandler(s)(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.lastLimit != tt.want {
				t.Fatalf("expected limit %d, got %d", tt.want, s.lastLimit)
			}
		})
	}

	if _, err := SearchHandler(&stubSearcher{})(context.Background(), map[string]any{"query": "q", "limit": "many"}); err == nil {
		t.Fatalf("expected error for non-numeric limit")
	}
}

func TestSearchDescriptor_Docs(t *testing.T) {
	reg := capability.NewRegistry()
	_ = RegisterSearch(reg, &stubSearcher{})
	want := "- semantic_search(query: string, limit: integer): Search the indexed codebase for code relevant to a natural language query"
	if got := reg.RenderDocs(); got != want {
		t.Fatalf("unexpected docs %q", got)
	}
}
