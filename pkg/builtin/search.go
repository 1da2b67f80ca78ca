// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin provides the in-process capabilities shipped with the harness.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jllopis/harness/pkg/capability"
	"github.com/jllopis/harness/pkg/memory"
)

const (
	// SearchName is the name of the semantic search capability.
	SearchName = "semantic_search"

	defaultSearchLimit = 5
	maxSearchLimit     = 50
	maxResultChars     = 1000
)

// Searcher finds indexed code relevant to a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]memory.SearchResult, error)
}

// SearchDescriptor describes semantic_search.
func SearchDescriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        SearchName,
		Description: "Search the indexed codebase for code relevant to a natural language query",
		Params: capability.NewSchema(
			capability.ParamSpec{Name: "query", Type: "string", Description: "What to look for", Required: true},
			capability.ParamSpec{Name: "limit", Type: "integer", Description: "Maximum number of results (default 5)"},
		),
	}
}

// RegisterSearch registers semantic_search backed by s.
func RegisterSearch(reg *capability.Registry, s Searcher) error {
	return reg.RegisterBuiltin(SearchDescriptor(), SearchHandler(s))
}

// SearchHandler returns the semantic_search handler. Search failures are
// reported in the result text.
func SearchHandler(s Searcher) capability.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		query = strings.TrimSpace(query)
		if query == "" {
			return "", fmt.Errorf("query must be a non-empty string")
		}
		limit, err := intArg(args["limit"], defaultSearchLimit)
		if err != nil {
			return "", fmt.Errorf("limit: %w", err)
		}

		results, err := s.Search(ctx, query, limit)
		if err != nil {
			return fmt.Sprintf("Search error: %v", err), nil
		}
		return FormatResults(results), nil
	}
}

// FormatResults renders search hits as fenced blocks.
func FormatResults(results []memory.SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		path, _ := r.Point.Payload["path"].(string)
		if path == "" {
			path = r.ID
		}
		lang, _ := r.Point.Payload["language"].(string)
		content, _ := r.Point.Payload["content"].(string)
		if runes := []rune(content); len(runes) > maxResultChars {
			content = string(runes[:maxResultChars]) + "\n... (truncated)"
		}
		blocks = append(blocks, fmt.Sprintf("## %s (score: %.3f)\n```%s\n%s\n```", path, r.Score, lang, content))
	}
	return strings.Join(blocks, "\n\n")
}

func intArg(v any, def int) (int, error) {
	var n int
	switch val := v.(type) {
	case nil:
		return def, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, err
		}
		n = int(math.Round(f))
	case float64:
		n = int(math.Round(val))
	case int:
		n = val
	case int64:
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", val)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if n <= 0 {
		return def, nil
	}
	if n > maxSearchLimit {
		n = maxSearchLimit
	}
	return n, nil
}
