package core

import "github.com/m-mizutani/goerr/v2"

// Error categories. Callers wrap these with goerr.Wrap and check them with errors.Is.
var (
	// ErrInvalidInput marks a request rejected before any encode or store work.
	ErrInvalidInput = goerr.New("invalid input")

	// ErrNotInitialized marks a call made before the component finished initialization.
	ErrNotInitialized = goerr.New("not initialized")

	// ErrDimensionMismatch marks a vector whose width differs from the collection's.
	ErrDimensionMismatch = goerr.New("vector dimension mismatch")

	// ErrDegenerateVector marks an embedding with zero length or non-finite components.
	// Cosine similarity is undefined for such a vector, so it is never stored or searched.
	ErrDegenerateVector = goerr.New("degenerate vector")
)

// Memory is a search result shaped for callers.
type Memory struct {
	ID        string  `json:"id,omitempty"`
	OwnerID   string  `json:"user_id"`
	Text      string  `json:"content"`
	Score     float64 `json:"score"`
	CreatedAt string  `json:"time"`
	Context   string  `json:"context,omitempty"`
}

// MemoryStats summarizes one owner's slice of the collection.
type MemoryStats struct {
	UserID         string `json:"user_id"`
	TotalMemories  int    `json:"total_memories"`
	CollectionName string `json:"collection_name"`
	VectorSize     int    `json:"vector_size"`
}
