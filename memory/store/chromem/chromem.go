package chromem

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/memory"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "ltm_memories"

const dimensionsKey = "dimensions"

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database. All owners share one
// collection and are separated by an owner_id metadata filter.
type ChromemStore struct {
	db         *chromem.DB
	name       string
	logger     *slog.Logger
	mu         sync.RWMutex
	collection *chromem.Collection
	dimensions int
}

// Option configures a ChromemStore.
type Option func(*options)

type options struct {
	collection string
	path       string
	compress   bool
	logger     *slog.Logger
}

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(o *options) {
		o.collection = name
	}
}

// WithPersistence stores the database under dir, optionally gzip-compressed.
// Without it the database lives only in memory.
func WithPersistence(dir string, compress bool) Option {
	return func(o *options) {
		o.path = dir
		o.compress = compress
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a new chromem-based store.
func New(opts ...Option) (*ChromemStore, error) {
	o := &options{
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var (
		db  *chromem.DB
		err error
	)
	if o.path != "" {
		db, err = chromem.NewPersistentDB(o.path, o.compress)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open persistent chromem db", goerr.V("path", o.path))
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{
		db:     db,
		name:   o.collection,
		logger: o.logger.With("component", "chromem"),
	}, nil
}

// Initialize creates the collection if needed and records its width.
// A reopened persistent collection is checked against dimensions.
func (s *ChromemStore) Initialize(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return goerr.Wrap(core.ErrDimensionMismatch, "dimensions must be positive", goerr.V("dimensions", dimensions))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection != nil {
		if s.dimensions != dimensions {
			return goerr.Wrap(core.ErrDimensionMismatch, "collection already initialized with another width",
				goerr.V("collection", s.name), goerr.V("existing", s.dimensions), goerr.V("requested", dimensions))
		}
		return nil
	}

	col, err := s.db.GetOrCreateCollection(
		s.name,
		map[string]string{dimensionsKey: strconv.Itoa(dimensions)},
		nil, // We always provide embeddings
	)
	if err != nil {
		return goerr.Wrap(err, "failed to create collection", goerr.V("collection", s.name))
	}

	if col.Count() > 0 {
		if err := checkWidth(ctx, col, dimensions); err != nil {
			return goerr.Wrap(err, "existing collection does not match model", goerr.V("collection", s.name))
		}
	}

	s.collection = col
	s.dimensions = dimensions
	s.logger.Info("collection ready", "collection", s.name, "dimensions", dimensions, "documents", col.Count())
	return nil
}

// checkWidth queries one stored document with a unit vector of the expected
// width. chromem-go rejects vectors of different lengths.
func checkWidth(ctx context.Context, col *chromem.Collection, dimensions int) error {
	query := make([]float32, dimensions)
	query[0] = 1
	_, err := col.QueryEmbedding(ctx, query, 1, nil, nil)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "same length") {
		return goerr.Wrap(core.ErrDimensionMismatch, "stored vectors have another width", goerr.V("expected", dimensions))
	}
	return goerr.Wrap(err, "failed to check collection width")
}

func (s *ChromemStore) ready(vector []float32) (*chromem.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.collection == nil {
		return nil, goerr.Wrap(core.ErrNotInitialized, "chromem store is not initialized")
	}
	if vector != nil && len(vector) != s.dimensions {
		return nil, goerr.Wrap(core.ErrDimensionMismatch, "vector width differs from collection",
			goerr.V("expected", s.dimensions), goerr.V("actual", len(vector)))
	}
	// chromem normalizes a zero vector to NaN, which then crowds real matches out of the top k.
	if vector != nil {
		if err := memory.CheckVector(vector); err != nil {
			return nil, err
		}
	}
	return s.collection, nil
}

// Store saves a note with its embedding.
func (s *ChromemStore) Store(ctx context.Context, ownerID, text string, vector []float32, contextTag string) (string, error) {
	col, err := s.ready(vector)
	if err != nil {
		return "", err
	}

	rec := memory.NewRecord(ownerID, text, contextTag, vector)

	s.logger.Debug("storing document", "id", rec.ID, "owner_id", ownerID)

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Vector,
		Metadata:  rec.Payload(),
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return "", goerr.Wrap(err, "failed to add document", goerr.V("owner_id", ownerID))
	}

	return rec.ID, nil
}

// Search retrieves the owner's documents by vector similarity.
func (s *ChromemStore) Search(ctx context.Context, ownerID string, vector []float32, limit int, minScore float64) ([]memory.Hit, error) {
	col, err := s.ready(vector)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	where := map[string]string{
		memory.FieldOwnerID: ownerID,
	}

	// chromem-go requires nResults <= collection size
	// Retry with smaller limits if necessary
	if total := col.Count(); limit > total {
		limit = total
	}
	var results []chromem.Result
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		var err error
		results, err = col.QueryEmbedding(ctx, vector, currentLimit, where, nil)
		if err == nil {
			break
		}

		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				return nil, nil
			}
			continue
		}

		return nil, goerr.Wrap(err, "chromem query failed", goerr.V("owner_id", ownerID))
	}

	s.logger.Debug("query finished", "owner_id", ownerID, "raw_results", len(results))

	hits := make([]memory.Hit, 0, len(results))
	for _, result := range results {
		score := float64(result.Similarity)
		if math.IsNaN(score) || score < minScore {
			continue
		}
		hits = append(hits, memory.Hit{
			ID:      result.ID,
			Score:   score,
			Payload: result.Metadata,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits, nil
}

// Count returns the number of documents owned by ownerID.
func (s *ChromemStore) Count(ctx context.Context, ownerID string) (int, error) {
	col, err := s.ready(nil)
	if err != nil {
		return 0, err
	}

	total := col.Count()
	if total == 0 {
		return 0, nil
	}

	// chromem-go has no filtered count; a full-width query with the owner
	// filter returns every matching document.
	s.mu.RLock()
	query := make([]float32, s.dimensions)
	s.mu.RUnlock()
	query[0] = 1
	results, err := col.QueryEmbedding(ctx, query, total, map[string]string{memory.FieldOwnerID: ownerID}, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return 0, nil
		}
		return 0, goerr.Wrap(err, "chromem count failed", goerr.V("owner_id", ownerID))
	}
	return len(results), nil
}

// Collection returns the collection name.
func (s *ChromemStore) Collection() string {
	return s.name
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// Persistent collections are written on every AddDocument; nothing to flush
	return nil
}

// isInsufficientDocsError checks if error is due to insufficient documents.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "nResults must be") || strings.Contains(errStr, "number of documents")
}
