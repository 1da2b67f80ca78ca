// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package indexer walks a source tree and stores its chunks for semantic
// search.
package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jllopis/harness/pkg/memory"
	"golang.org/x/sync/errgroup"
)

// DefaultExtensions are the file types indexed when none are configured.
var DefaultExtensions = []string{".py", ".js", ".ts", ".go", ".rs", ".java", ".md"}

var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
}

// Store is the subset of memory.Index the indexer writes to.
type Store interface {
	Initialize(ctx context.Context) error
	Reset(ctx context.Context) error
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Upsert(ctx context.Context, points []memory.Point) error
}

// Stats summarizes an indexing pass.
type Stats struct {
	Files  int
	Chunks int
	Errors int
}

// ProgressFunc is called once per file after it was processed.
type ProgressFunc func(path string, chunks int, err error)

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the indexer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithParallelism bounds how many files are embedded concurrently.
func WithParallelism(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.parallelism = n
		}
	}
}

// WithExtensions overrides the indexed file extensions.
func WithExtensions(exts ...string) Option {
	return func(ix *Indexer) {
		if len(exts) == 0 {
			return
		}
		ix.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			ix.extensions[strings.ToLower(e)] = true
		}
	}
}

// WithProgress registers a per-file progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(ix *Indexer) {
		ix.progress = fn
	}
}

// Indexer chunks, embeds and stores source files.
type Indexer struct {
	store       Store
	logger      *slog.Logger
	parallelism int
	extensions  map[string]bool
	progress    ProgressFunc
}

// New creates an indexer writing to store.
func New(store Store, opts ...Option) *Indexer {
	ix := &Indexer{
		store:       store,
		logger:      slog.Default(),
		parallelism: 4,
	}
	WithExtensions(DefaultExtensions...)(ix)
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Reset drops everything indexed so far.
func (ix *Indexer) Reset(ctx context.Context) error {
	return ix.store.Reset(ctx)
}

// IndexDirectory indexes every supported file under dir. Per-file failures
// are counted and logged; only walk and context errors are returned.
func (ix *Indexer) IndexDirectory(ctx context.Context, dir string) (Stats, error) {
	if err := ix.store.Initialize(ctx); err != nil {
		return Stats{}, err
	}

	files, err := ix.collect(dir)
	if err != nil {
		return Stats{}, err
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.parallelism)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := ix.IndexFile(gctx, path)

			mu.Lock()
			if err != nil {
				stats.Errors++
			} else if n > 0 {
				stats.Files++
				stats.Chunks += n
			}
			mu.Unlock()

			if err != nil {
				ix.logger.Warn("failed to index file", "path", path, "error", err)
			} else if n > 0 {
				ix.logger.Debug("indexed file", "path", path, "chunks", n)
			}
			if ix.progress != nil {
				ix.progress(path, n, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	ix.logger.Info("indexing finished", "dir", dir, "files", stats.Files, "chunks", stats.Chunks, "errors", stats.Errors)
	return stats, nil
}

// IndexFile chunks one file, embeds all its chunks in a single batch and
// stores them under stable IDs.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	chunks, err := ChunkFile(path)
	if err != nil || len(chunks) == 0 {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.store.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	points := make([]memory.Point, len(chunks))
	for i, c := range chunks {
		points[i] = memory.Point{
			ID:      PointID(c.Path, c.Index),
			Vector:  vectors[i],
			Payload: c.Payload(),
		}
	}
	if err := ix.store.Upsert(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// PointID derives a stable UUID for a chunk from its path and position.
func PointID(path string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path+":"+strconv.Itoa(index))).String()
}

func (ix *Indexer) collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && ix.extensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
