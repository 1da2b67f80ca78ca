// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package action detects capability requests in free-form model output.
//
// Models are asked to emit a fenced JSON block such as
//
//	```json
//	{"capability": "read_file", "arguments": {"path": "/tmp/main.go"}}
//	```
//
// but often wrap it in prose, drop the fence or emit stray braces. Extract
// tolerates that noise: it checks fenced blocks first, then scans every
// balanced brace region left to right, and reports no action when nothing
// qualifies, in which case the text is a final answer.
package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Method records how a request was found.
type Method string

const (
	MethodFenced Method = "fenced"
	MethodInline Method = "inline"
)

// Request is a parsed capability invocation.
type Request struct {
	Capability string
	Arguments  map[string]any
	Method     Method
}

var fenceMarkers = []string{"```", "~~~"}

// Extract returns the first capability request found in text.
func Extract(text string) (Request, bool) {
	if req, ok := extractFenced(text); ok {
		req.Method = MethodFenced
		return req, true
	}
	if req, ok := extractInline(text); ok {
		req.Method = MethodInline
		return req, true
	}
	return Request{}, false
}

// extractFenced tries every fenced block in order.
func extractFenced(text string) (Request, bool) {
	pos := 0
	for pos < len(text) {
		start, marker := nextFence(text, pos)
		if start < 0 {
			return Request{}, false
		}
		bodyStart := skipInfoTag(text, start+len(marker))
		end := strings.Index(text[bodyStart:], marker)
		if end < 0 {
			return Request{}, false
		}
		end += bodyStart

		if req, _, ok := decode(strings.TrimSpace(text[bodyStart:end])); ok {
			return req, true
		}
		pos = end + len(marker)
	}
	return Request{}, false
}

func nextFence(text string, from int) (int, string) {
	best, marker := -1, ""
	for _, m := range fenceMarkers {
		if i := strings.Index(text[from:], m); i >= 0 && (best < 0 || from+i < best) {
			best, marker = from+i, m
		}
	}
	return best, marker
}

// skipInfoTag skips an optional language tag such as "json" right after
// the opening marker.
func skipInfoTag(text string, i int) int {
	for i < len(text) {
		c := text[i]
		if c == '-' || c == '_' || c == '+' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	return i
}

// extractInline scans balanced brace regions left to right. A region that
// decodes as an object without a capability is skipped whole, so an action
// nested inside an unrelated object never qualifies. A region that does not
// decode is skipped and scanning resumes at the next opening brace, except
// for the objects the parser still had open when it failed: those fail at
// the same byte and are never decoded again.
func extractInline(text string) (Request, bool) {
	closing := matchBraces(text)
	var failed []bool
	for i := 0; i < len(text); i++ {
		if text[i] != '{' || closing[i] < 0 || (failed != nil && failed[i]) {
			continue
		}
		end := closing[i]
		obj, err := parseObject(text[i : end+1])
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) && syntaxErr.Offset > 1 {
				if failed == nil {
					failed = make([]bool, len(text))
				}
				markOpenObjects(text[i:i+int(syntaxErr.Offset)-1], i, failed)
			}
			continue
		}
		if req, ok := toRequest(obj); ok {
			return req, true
		}
		i = end
	}
	return Request{}, false
}

// matchBraces returns, for each opening brace, the index of the brace that
// closes it, or -1. One pass with a stack: braces are counted without regard
// to string literals, exactly as a depth counter started at each brace would.
func matchBraces(text string) []int {
	closing := make([]int, len(text))
	var stack []int
	for i := 0; i < len(text); i++ {
		closing[i] = -1
		switch text[i] {
		case '{':
			stack = append(stack, i)
		case '}':
			if n := len(stack); n > 0 {
				closing[stack[n-1]] = i
				stack = stack[:n-1]
			}
		}
	}
	return closing
}

// markOpenObjects walks prefix, the part of a candidate the JSON parser
// accepted before failing, and marks every object still open at its end.
// Such an object parses identically on its own and stops at the same byte,
// or runs out of input first. base is the offset of prefix in the text.
func markOpenObjects(prefix string, base int, failed []bool) {
	var stack []int
	inString, escaped := false, false
	for k := 0; k < len(prefix); k++ {
		c := prefix[k]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, k)
		case '}', ']':
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
		}
	}
	for _, k := range stack {
		if prefix[k] == '{' {
			failed[base+k] = true
		}
	}
}

// decode parses candidate as a request. isObject reports whether candidate
// was a well-formed JSON object at all.
func decode(candidate string) (req Request, isObject bool, ok bool) {
	obj, err := parseObject(candidate)
	if err != nil {
		return Request{}, false, false
	}
	req, ok = toRequest(obj)
	return req, true, ok
}

func parseObject(candidate string) (map[string]json.RawMessage, error) {
	if !strings.HasPrefix(candidate, "{") {
		return nil, errNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}

func toRequest(obj map[string]json.RawMessage) (Request, bool) {
	name, found := stringField(obj, "capability", "tool")
	if !found || name == "" {
		return Request{}, false
	}
	args, valid := argumentsField(obj, "arguments", "args")
	if !valid {
		return Request{}, false
	}
	return Request{Capability: name, Arguments: args}, true
}

func stringField(obj map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, key := range keys {
		raw, present := obj[key]
		if !present {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	return "", false
}

// argumentsField decodes the arguments object. Absent or null arguments are
// an empty map; a string holding a JSON object is unwrapped; anything else
// is invalid.
func argumentsField(obj map[string]json.RawMessage, keys ...string) (map[string]any, bool) {
	for _, key := range keys {
		raw, present := obj[key]
		if !present {
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		if bytes.Equal(trimmed, []byte("null")) {
			return map[string]any{}, true
		}
		if len(trimmed) > 0 && trimmed[0] == '"' {
			var inner string
			if err := json.Unmarshal(trimmed, &inner); err != nil {
				return nil, false
			}
			trimmed = []byte(strings.TrimSpace(inner))
			if len(trimmed) == 0 {
				return map[string]any{}, true
			}
		}
		args, err := decodeObject(trimmed)
		if err != nil {
			return nil, false
		}
		return args, true
	}
	return map[string]any{}, true
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, errNotObject
	}
	return args, nil
}
