package memory

import (
	"context"
	"fmt"

	herrors "github.com/jllopis/harness/pkg/errors"
)

// DefaultCollection is the collection holding indexed code chunks.
const DefaultCollection = "code"

// Index binds a vector store and an embedder to one collection.
type Index struct {
	store      VectorStore
	embedder   Embedder
	collection string
	vectorSize uint64
}

// NewIndex creates an index over collection. A zero vectorSize is resolved
// from the embedder on Initialize.
func NewIndex(store VectorStore, embedder Embedder, collection string, vectorSize uint64) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
		vectorSize: vectorSize,
	}
}

// Collection returns the collection name.
func (ix *Index) Collection() string { return ix.collection }

// Initialize ensures the collection exists with the right dimension.
func (ix *Index) Initialize(ctx context.Context) error {
	if ix.vectorSize == 0 {
		vec, err := ix.embedder.Embed(ctx, "hello")
		if err != nil {
			return herrors.New(herrors.CodeMemoryError, "failed to get embedding dimension", err)
		}
		ix.vectorSize = uint64(len(vec))
	}
	if err := ix.store.EnsureCollection(ctx, ix.collection, ix.vectorSize); err != nil {
		return herrors.New(herrors.CodeMemoryError, "failed to ensure collection", err).
			WithContext("collection", ix.collection)
	}
	return nil
}

// Reset drops every point by recreating the collection.
func (ix *Index) Reset(ctx context.Context) error {
	if err := ix.store.DeleteCollection(ctx, ix.collection); err != nil {
		return herrors.New(herrors.CodeMemoryError, "failed to delete collection", err).
			WithContext("collection", ix.collection)
	}
	return ix.Initialize(ctx)
}

// EmbedBatch embeds texts with the index embedder.
func (ix *Index) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, herrors.New(herrors.CodeMemoryError, "failed to embed texts", err)
	}
	if len(vecs) != len(texts) {
		return nil, herrors.New(herrors.CodeMemoryError,
			fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), len(texts)), nil)
	}
	return vecs, nil
}

// Upsert stores points in the collection.
func (ix *Index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ix.store.Upsert(ctx, ix.collection, points); err != nil {
		return herrors.New(herrors.CodeMemoryError, "failed to store points", err)
	}
	return nil
}

// Search embeds query and returns the nearest points.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	vector, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, herrors.New(herrors.CodeMemoryError, "failed to embed query", err)
	}
	results, err := ix.store.Search(ctx, ix.collection, vector, limit, 0)
	if err != nil {
		return nil, herrors.New(herrors.CodeMemoryError, "failed to search", err)
	}
	return results, nil
}
