package memory

import (
	"context"
)

// Role tells an Embedder which side of a retrieval pair a text is on.
// Asymmetric models encode documents and queries differently; each
// backend applies its own convention (prefixes, task types, or nothing).
type Role int

const (
	// RoleDocument marks text being stored.
	RoleDocument Role = iota
	// RoleQuery marks text used to search.
	RoleQuery
)

func (r Role) String() string {
	switch r {
	case RoleDocument:
		return "document"
	case RoleQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Embedder converts text to vector embeddings.
// Implementations: hashing (local development and tests), onnx (local model),
// gemini (hosted model).
//
// Note: Embedder is an implementation detail of Encoder.
// Handlers never call it directly.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string, role Role) ([]float32, error)

	// Dimensions returns the embedding vector size, or 0 when it is only
	// known after the first call.
	Dimensions() int
}

// Hit is a single similarity match returned by a Store.
// Payload carries the stored fields untouched so the Manager can validate them.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// Store is the vector storage backend interface.
// Implementations: chromem (embedded), qdrant (remote).
//
// A Store holds one collection of fixed width. Records are append-only.
type Store interface {
	// Initialize ensures the collection exists with the given width.
	// An existing collection of another width yields core.ErrDimensionMismatch.
	Initialize(ctx context.Context, dimensions int) error

	// Store writes one record and returns its generated id.
	Store(ctx context.Context, ownerID, text string, vector []float32, contextTag string) (string, error)

	// Search returns at most limit hits of ownerID whose cosine similarity
	// is at least minScore, highest first.
	Search(ctx context.Context, ownerID string, vector []float32, limit int, minScore float64) ([]Hit, error)

	// Count returns how many records ownerID has.
	Count(ctx context.Context, ownerID string) (int, error)

	// Collection returns the collection name.
	Collection() string

	// Close releases resources.
	Close() error
}
