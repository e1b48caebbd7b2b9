package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
)

// Manager is the semantic memory engine. It validates requests, encodes
// notes and queries through the Encoder and reads and writes the Store.
//
// A Manager must be initialized once before use; until then every
// operation fails with core.ErrNotInitialized.
type Manager struct {
	store   Store
	encoder *Encoder
	config  *Config
	logger  *slog.Logger

	mu    sync.RWMutex
	ready bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager.
func NewManager(store Store, encoder *Encoder, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	m := &Manager{
		store:   store,
		encoder: encoder,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "memory")
	return m
}

// Initialize warms up the embedding model and prepares the collection.
// Concurrent and repeated calls are safe; only the first successful call does work.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return nil
	}

	if err := m.encoder.Initialize(ctx); err != nil {
		return goerr.Wrap(err, "failed to initialize encoder")
	}

	dims := m.encoder.Dimensions()
	if m.config.ExpectedDimensions > 0 && m.config.ExpectedDimensions != dims {
		return goerr.Wrap(core.ErrDimensionMismatch, "embedding model width differs from configuration",
			goerr.V("expected", m.config.ExpectedDimensions), goerr.V("actual", dims))
	}

	if err := m.store.Initialize(ctx, dims); err != nil {
		return goerr.Wrap(err, "failed to initialize store", goerr.V("collection", m.store.Collection()))
	}

	m.ready = true
	m.logger.Info("memory service initialized", "collection", m.store.Collection(), "dimensions", dims)
	return nil
}

// Ready reports whether Initialize has succeeded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *Manager) requireReady() error {
	if !m.Ready() {
		return goerr.Wrap(core.ErrNotInitialized, "memory service is not initialized")
	}
	return nil
}

// StoreMemory encodes and stores a note. It returns the new record id.
func (m *Manager) StoreMemory(ctx context.Context, req core.StoreRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := m.requireReady(); err != nil {
		return "", err
	}

	vec, err := m.encoder.EncodeDocument(ctx, req.Content, req.Context)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode memory", goerr.V("user_id", req.UserID))
	}

	id, err := m.store.Store(ctx, req.UserID, req.Content, vec, req.Context)
	if err != nil {
		return "", goerr.Wrap(err, "failed to store memory", goerr.V("user_id", req.UserID))
	}

	m.logger.Info("memory stored",
		"user_id", req.UserID,
		"id", id,
		"content", truncate(req.Content, m.config.LogContentLength),
	)
	return id, nil
}

// SearchMemory returns the caller's notes most similar to the query.
// Hits with missing fields are skipped and logged; they never fail the call.
func (m *Manager) SearchMemory(ctx context.Context, req core.SearchRequest) ([]core.Memory, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	vec, err := m.encoder.EncodeQuery(ctx, req.Query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode query", goerr.V("user_id", req.UserID))
	}

	hits, err := m.store.Search(ctx, req.UserID, vec, req.LimitValue(), req.MinScoreValue())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.V("user_id", req.UserID))
	}

	memories := make([]core.Memory, 0, len(hits))
	for i, hit := range hits {
		rec, err := NewRecordFromPayload(hit.ID, hit.Payload)
		if err != nil {
			m.logger.Warn("skipping malformed search result", "index", i, "id", hit.ID, "error", err)
			continue
		}
		memories = append(memories, core.Memory{
			ID:        rec.ID,
			OwnerID:   rec.OwnerID,
			Text:      rec.Text,
			Score:     hit.Score,
			CreatedAt: rec.CreatedAt.Format(TimeLayout),
			Context:   rec.Context,
		})
	}

	m.logger.Info("memories retrieved",
		"user_id", req.UserID,
		"query", truncate(req.Query, m.config.LogContentLength),
		"hits", len(hits),
		"returned", len(memories),
	)
	return memories, nil
}

// Stats reports how many notes ownerID has and the collection they live in.
func (m *Manager) Stats(ctx context.Context, ownerID string) (*core.MemoryStats, error) {
	if err := (core.BaseInput{UserID: ownerID}).Validate(); err != nil {
		return nil, err
	}
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	count, err := m.store.Count(ctx, ownerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count memories", goerr.V("user_id", ownerID))
	}

	return &core.MemoryStats{
		UserID:         ownerID,
		TotalMemories:  count,
		CollectionName: m.store.Collection(),
		VectorSize:     m.encoder.Dimensions(),
	}, nil
}

// Config holds Manager configuration.
type Config struct {
	// ExpectedDimensions, when positive, must equal the measured model width.
	// Default: 0 (accept whatever the model produces).
	ExpectedDimensions int

	// LogContentLength caps how many characters of a note or query are logged.
	// Default: 100
	LogContentLength int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	ExpectedDimensions: 0,
	LogContentLength:   100,
}
