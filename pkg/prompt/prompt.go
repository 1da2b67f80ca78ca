// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt renders the system preamble the model receives.
package prompt

import (
	"fmt"
	"strings"
)

// DefaultFilesystemRoot matches the default root of the filesystem provider.
const DefaultFilesystemRoot = "/tmp"

// Rules are the fixed operating rules injected with the capability docs.
type Rules struct {
	// FilesystemRoot constrains paths given to filesystem capabilities.
	FilesystemRoot string
	// SearchCapability, when non-empty and documented, is recommended
	// before making changes.
	SearchCapability string
}

// Build renders the system prompt. It is a pure function of docs and rules.
func Build(docs string, rules Rules) string {
	root := strings.TrimSpace(rules.FilesystemRoot)
	if root == "" {
		root = DefaultFilesystemRoot
	}
	docs = strings.TrimSpace(docs)
	if docs == "" {
		docs = "(no capabilities available)"
	}

	var b strings.Builder
	b.WriteString("You are a coding assistant with access to capabilities.\n\n")
	b.WriteString("Available capabilities:\n")
	b.WriteString(docs)
	b.WriteString("\n\nTo use a capability, respond with a JSON block:\n")
	b.WriteString("```json\n")
	b.WriteString(`{"capability": "capability_name", "arguments": {"param": "value"}}`)
	b.WriteString("\n```\n\n")
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- For file operations, use paths under %s\n", root)
	if rules.SearchCapability != "" && documents(docs, rules.SearchCapability) {
		fmt.Fprintf(&b, "- Use %s to find relevant code before making changes\n", rules.SearchCapability)
	}
	b.WriteString("- Use ONE capability at a time, then wait for its result\n")
	b.WriteString("- When done or answering directly, respond normally WITHOUT json blocks\n")
	b.WriteString("- Be concise")
	return b.String()
}

func documents(docs, name string) bool {
	for _, line := range strings.Split(docs, "\n") {
		if strings.HasPrefix(line, "- "+name+"(") {
			return true
		}
	}
	return false
}
