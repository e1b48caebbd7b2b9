// Package hashing provides a dependency-free embedder built on feature hashing.
//
// Each word and each character trigram of a word is hashed into a fixed
// number of buckets and the bucket counts are L2-normalized. Text without
// letters or digits is hashed rune by rune instead. Texts that share
// words or word fragments land close together, which is enough for local
// development and tests without model files.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/t-bank-sirius/LTM/memory"
)

// DefaultDimensions matches the width of small sentence-transformer models.
const DefaultDimensions = 384

// Embedder generates deterministic embeddings from hashed text features.
// Document and query roles are encoded identically.
type Embedder struct {
	dimensions int
}

// New creates a hashing embedder. Non-positive dimensions fall back to DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (e *Embedder) Embed(ctx context.Context, text string, role memory.Role) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, e.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		// Symbol-only text such as emoji still gets a direction.
		for _, r := range text {
			if !unicode.IsSpace(r) {
				embedding[e.bucket("r:"+string(r))]++
			}
		}
	}
	for _, tok := range tokens {
		embedding[e.bucket("w:"+tok)]++

		padded := []rune("<" + tok + ">")
		if len(padded) <= 3 {
			embedding[e.bucket("g:"+string(padded))]++
			continue
		}
		for i := 0; i+3 <= len(padded); i++ {
			embedding[e.bucket("g:"+string(padded[i:i+3]))]++
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) bucket(feature string) int {
	h := fnv.New64a()
	h.Write([]byte(feature))
	return int(h.Sum64() % uint64(e.dimensions))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
