// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package indexer

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxChunkLines = 100
	maxChunkChars = 4000
	maxFileChars  = 100000
)

// definitionStart marks top-level definitions that open a new chunk.
var definitionStart = map[string]*regexp.Regexp{
	".py": regexp.MustCompile(`^(class |def |async def )`),
	".go": regexp.MustCompile(`^(func |type )`),
}

// Chunk is one indexed slice of a file.
type Chunk struct {
	Path     string
	Language string
	Index    int
	Content  string
}

// Payload returns the stored point payload.
func (c Chunk) Payload() map[string]any {
	return map[string]any{
		"content":     c.Content,
		"path":        c.Path,
		"language":    c.Language,
		"chunk_index": c.Index,
	}
}

// ChunkFile reads path and splits it into chunks.
func ChunkFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if len(content) > maxFileChars {
		content = content[:maxFileChars]
	}

	ext := strings.ToLower(filepath.Ext(path))
	lang := strings.TrimPrefix(ext, ".")
	if lang == "" {
		lang = "text"
	}

	var texts []string
	if re, ok := definitionStart[ext]; ok {
		texts = chunkByDefinitions(content, re, maxChunkLines)
	} else {
		texts = chunkByLines(content, maxChunkLines)
	}

	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		if len(text) > maxChunkChars {
			text = text[:maxChunkChars]
		}
		chunks = append(chunks, Chunk{Path: path, Language: lang, Index: i, Content: text})
	}
	return chunks, nil
}

// chunkByLines splits content into windows of maxLines, dropping blank ones.
func chunkByLines(content string, maxLines int) []string {
	lines := strings.Split(content, "\n")
	var chunks []string
	for i := 0; i < len(lines); i += maxLines {
		end := min(i+maxLines, len(lines))
		chunk := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// chunkByDefinitions starts a new chunk at every line matching re and
// splits any chunk reaching maxLines.
func chunkByDefinitions(content string, re *regexp.Regexp, maxLines int) []string {
	var chunks, current []string
	flush := func() {
		chunk := strings.Join(current, "\n")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if re.MatchString(line) && len(current) > 0 {
			flush()
		}
		current = append(current, line)
		if len(current) >= maxLines {
			flush()
		}
	}
	if len(current) > 0 {
		flush()
	}
	if len(chunks) == 0 && strings.TrimSpace(content) != "" {
		return []string{content}
	}
	return chunks
}
