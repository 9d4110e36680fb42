// Package memory provides the vector-backed memory store used by active
// recall and the session indexer.
package memory

import (
	"context"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// Store is the memory store collaborator contract.
type Store interface {
	// InsertMemoryWithEmbedding persists a memory and its embedding vector.
	// A nil vector stores the memory without similarity support.
	InsertMemoryWithEmbedding(ctx context.Context, memory *models.Memory, vec []float32) error

	// Recall returns the memories most similar to the query vector, filtered
	// by minimum score and capped at the query limit.
	Recall(ctx context.Context, query models.RecallQuery) (*models.RecallResult, error)

	// HasVectors reports whether any embedded memories exist. Recall is
	// skipped while the index is uninitialized.
	HasVectors(ctx context.Context) bool

	// InsertEdge records a knowledge-graph relationship edge.
	InsertEdge(ctx context.Context, from, relation, to, sourceSessionID string) error

	// Close releases resources.
	Close() error
}

// Embedder is the embedding collaborator contract.
type Embedder interface {
	// Embed converts text into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector width this embedder produces.
	Dimensions() int

	// Name identifies the embedding model.
	Name() string
}
