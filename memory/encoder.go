package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
)

const warmupText = "test"

// Encoder turns notes and queries into vectors of one fixed width.
// The width is discovered by encoding a warmup text during Initialize.
type Encoder struct {
	embedder Embedder
	cache    *ristretto.Cache
	logger   *slog.Logger

	mu         sync.RWMutex
	dimensions int
	ready      bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*encoderConfig)

type encoderConfig struct {
	cacheEntries int64
	logger       *slog.Logger
}

// WithCacheSize bounds how many vectors the encoder keeps. Zero disables the cache.
func WithCacheSize(entries int64) EncoderOption {
	return func(c *encoderConfig) {
		c.cacheEntries = entries
	}
}

// WithEncoderLogger sets the encoder's logger.
func WithEncoderLogger(logger *slog.Logger) EncoderOption {
	return func(c *encoderConfig) {
		c.logger = logger
	}
}

// NewEncoder wraps embedder. It must be initialized before use.
func NewEncoder(embedder Embedder, opts ...EncoderOption) (*Encoder, error) {
	cfg := &encoderConfig{
		cacheEntries: 10_000,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Encoder{
		embedder: embedder,
		logger:   cfg.logger.With("component", "encoder"),
	}

	if cfg.cacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cfg.cacheEntries * 10,
			MaxCost:     cfg.cacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create embedding cache")
		}
		e.cache = cache
	}

	return e, nil
}

// Initialize encodes the warmup text once and fixes Dimensions.
// Calling it again is a no-op.
func (e *Encoder) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}

	vec, err := e.embedder.Embed(ctx, warmupText, RoleDocument)
	if err != nil {
		return goerr.Wrap(err, "failed to warm up embedding model")
	}
	if len(vec) == 0 {
		return goerr.Wrap(core.ErrDimensionMismatch, "embedding model returned an empty vector")
	}
	if err := CheckVector(vec); err != nil {
		return goerr.Wrap(err, "embedding model returned an unusable warmup vector")
	}
	if declared := e.embedder.Dimensions(); declared > 0 && declared != len(vec) {
		return goerr.Wrap(core.ErrDimensionMismatch, "embedding model width differs from its declared size",
			goerr.V("declared", declared), goerr.V("actual", len(vec)))
	}

	e.dimensions = len(vec)
	e.ready = true
	e.logger.Info("encoder initialized", "dimensions", e.dimensions)
	return nil
}

// Ready reports whether Initialize has succeeded.
func (e *Encoder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Dimensions returns the vector width, or 0 before initialization.
func (e *Encoder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// EncodeDocument encodes a note and its optional context tag.
func (e *Encoder) EncodeDocument(ctx context.Context, content, contextTag string) ([]float32, error) {
	return e.encode(ctx, EmbeddingText(content, contextTag), RoleDocument)
}

// EncodeQuery encodes a search query.
func (e *Encoder) EncodeQuery(ctx context.Context, query string) ([]float32, error) {
	return e.encode(ctx, query, RoleQuery)
}

func (e *Encoder) encode(ctx context.Context, text string, role Role) ([]float32, error) {
	dims := e.Dimensions()
	if dims == 0 {
		return nil, goerr.Wrap(core.ErrNotInitialized, "encoder is not initialized")
	}

	key := role.String() + "\x00" + text
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if vec, ok := cached.([]float32); ok {
				return clone(vec), nil
			}
		}
	}

	vec, err := e.embedder.Embed(ctx, text, role)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode text", goerr.V("role", role.String()))
	}
	if len(vec) != dims {
		return nil, goerr.Wrap(core.ErrDimensionMismatch, "embedding width changed",
			goerr.V("expected", dims), goerr.V("actual", len(vec)))
	}
	if err := CheckVector(vec); err != nil {
		return nil, goerr.Wrap(err, "text has no usable embedding", goerr.V("role", role.String()))
	}

	if e.cache != nil {
		e.cache.Set(key, clone(vec), 1)
	}
	return vec, nil
}

// Close releases the cache.
func (e *Encoder) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

func clone(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
