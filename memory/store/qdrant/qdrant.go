// Package qdrant stores memories in a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/memory"
)

// Config configures the Qdrant connection.
type Config struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
	UseTLS     bool
}

// DefaultConfig matches a local Qdrant with default ports.
var DefaultConfig = Config{
	Host:       "localhost",
	Port:       6334,
	Collection: "ltm_memories",
}

// QdrantStore keeps every owner's notes in one cosine collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	mu         sync.RWMutex
	dimensions int
}

// Option configures a QdrantStore.
type Option func(*QdrantStore)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *QdrantStore) {
		s.logger = logger
	}
}

// New connects to Qdrant. The connection is lazy; errors surface on first use.
func New(cfg Config, opts ...Option) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultConfig.Host
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig.Port
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultConfig.Collection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		// Version negotiation dials eagerly; Initialize reports connectivity instead.
		SkipCompatibilityCheck: true,
		GrpcOptions: []grpc.DialOption{
			grpc.WithUserAgent("ltm-memory"),
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create qdrant client", goerr.V("host", cfg.Host), goerr.V("port", cfg.Port))
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "qdrant")
	return s, nil
}

// Initialize creates the collection and the owner_id index when missing,
// and checks the width of an existing collection.
func (s *QdrantStore) Initialize(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return goerr.Wrap(core.ErrDimensionMismatch, "dimensions must be positive", goerr.V("dimensions", dimensions))
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return wrapRPC(err, "failed to check collection", s.collection)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return wrapRPC(err, "failed to create collection", s.collection)
		}
		s.logger.Info("collection created", "collection", s.collection, "dimensions", dimensions)
	} else {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return wrapRPC(err, "failed to read collection info", s.collection)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != uint64(dimensions) {
			return goerr.Wrap(core.ErrDimensionMismatch, "collection width differs from model",
				goerr.V("collection", s.collection), goerr.V("existing", size), goerr.V("requested", dimensions))
		}
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      memory.FieldOwnerID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return wrapRPC(err, "failed to create owner index", s.collection)
	}

	s.mu.Lock()
	s.dimensions = dimensions
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) check(vector []float32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimensions == 0 {
		return goerr.Wrap(core.ErrNotInitialized, "qdrant store is not initialized")
	}
	if vector != nil && len(vector) != s.dimensions {
		return goerr.Wrap(core.ErrDimensionMismatch, "vector width differs from collection",
			goerr.V("expected", s.dimensions), goerr.V("actual", len(vector)))
	}
	if vector != nil {
		return memory.CheckVector(vector)
	}
	return nil
}

// Store upserts one point and waits for it to be applied.
func (s *QdrantStore) Store(ctx context.Context, ownerID, text string, vector []float32, contextTag string) (string, error) {
	if err := s.check(vector); err != nil {
		return "", err
	}

	rec := memory.NewRecord(ownerID, text, contextTag, vector)

	payload := make(map[string]any, 4)
	for k, v := range rec.Payload() {
		payload[k] = v
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(rec.ID),
				Vectors: qdrant.NewVectors(rec.Vector...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return "", wrapRPC(err, "failed to upsert point", s.collection)
	}

	return rec.ID, nil
}

// Search runs a filtered nearest-neighbour query with a score threshold.
func (s *QdrantStore) Search(ctx context.Context, ownerID string, vector []float32, limit int, minScore float64) ([]memory.Hit, error) {
	if err := s.check(vector); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         ownerFilter(ownerID),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(minScore)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapRPC(err, "failed to query points", s.collection)
	}

	hits := make([]memory.Hit, 0, len(points))
	for _, p := range points {
		payload := make(map[string]string, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			if str, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
				payload[k] = str.StringValue
			}
		}
		hits = append(hits, memory.Hit{
			ID:      pointID(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: payload,
		})
	}
	return hits, nil
}

// Count returns the exact number of points owned by ownerID.
func (s *QdrantStore) Count(ctx context.Context, ownerID string) (int, error) {
	if err := s.check(nil); err != nil {
		return 0, err
	}

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         ownerFilter(ownerID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, wrapRPC(err, "failed to count points", s.collection)
	}
	return int(n), nil
}

// Collection returns the collection name.
func (s *QdrantStore) Collection() string {
	return s.collection
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func ownerFilter(ownerID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(memory.FieldOwnerID, ownerID),
		},
	}
}

func pointID(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	if num := id.GetNum(); num != 0 {
		return strconv.FormatUint(num, 10)
	}
	return ""
}

// wrapRPC attaches the gRPC status code so operators can tell an unreachable
// Qdrant from a rejected request.
func wrapRPC(err error, msg, collection string) error {
	code := status.Code(err)
	return goerr.Wrap(err, msg,
		goerr.V("collection", collection),
		goerr.V("grpc_code", code.String()),
		goerr.V("unavailable", code == codes.Unavailable),
	)
}
