package chromem_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/memory"
	"github.com/t-bank-sirius/LTM/memory/store/chromem"
)

func unit(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

func newStore(t *testing.T, dims int, opts ...chromem.Option) *chromem.ChromemStore {
	t.Helper()
	store, err := chromem.New(opts...)
	gt.NoError(t, err)
	gt.NoError(t, store.Initialize(context.Background(), dims))
	return store
}

func TestStoreAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4)

	id, err := store.Store(ctx, "u1", "note on axis zero", unit(4, 0), "ctx")
	gt.NoError(t, err)
	gt.True(t, id != "")

	_, err = store.Store(ctx, "u1", "note on axis one", unit(4, 1), "")
	gt.NoError(t, err)

	hits, err := store.Search(ctx, "u1", unit(4, 0), 5, 0.5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].ID, id)
	gt.Equal(t, hits[0].Payload[memory.FieldText], "note on axis zero")
	gt.Equal(t, hits[0].Payload[memory.FieldContext], "ctx")
	gt.Equal(t, hits[0].Payload[memory.FieldOwnerID], "u1")
	gt.True(t, hits[0].Score > 0.99)
}

func TestSearchOrdersByScore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 3)

	_, err := store.Store(ctx, "u1", "far", []float32{0, 1, 0}, "")
	gt.NoError(t, err)
	_, err = store.Store(ctx, "u1", "near", []float32{1, 0.1, 0}, "")
	gt.NoError(t, err)
	_, err = store.Store(ctx, "u1", "middle", []float32{1, 1, 0}, "")
	gt.NoError(t, err)

	hits, err := store.Search(ctx, "u1", []float32{1, 0, 0}, 3, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(3)
	gt.Equal(t, hits[0].Payload[memory.FieldText], "near")
	gt.Equal(t, hits[1].Payload[memory.FieldText], "middle")
	gt.Equal(t, hits[2].Payload[memory.FieldText], "far")
}

func TestSearchOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4)

	_, err := store.Store(ctx, "u1", "mine", unit(4, 0), "")
	gt.NoError(t, err)
	_, err = store.Store(ctx, "u2", "theirs", unit(4, 0), "")
	gt.NoError(t, err)

	hits, err := store.Search(ctx, "u2", unit(4, 0), 10, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Payload[memory.FieldOwnerID], "u2")

	hits, err = store.Search(ctx, "nobody", unit(4, 0), 10, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}

func TestSearchLimitLargerThanCollection(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4)

	hits, err := store.Search(ctx, "u1", unit(4, 0), 50, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)

	for i := 0; i < 3; i++ {
		_, err := store.Store(ctx, "u1", "note", unit(4, i), "")
		gt.NoError(t, err)
	}

	hits, err = store.Search(ctx, "u1", unit(4, 0), 50, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(3)

	hits, err = store.Search(ctx, "u1", unit(4, 0), 2, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4)

	n, err := store.Count(ctx, "u1")
	gt.NoError(t, err)
	gt.Equal(t, n, 0)

	for i := 0; i < 3; i++ {
		_, err := store.Store(ctx, "u1", "note", unit(4, i), "")
		gt.NoError(t, err)
	}
	_, err = store.Store(ctx, "u2", "note", unit(4, 0), "")
	gt.NoError(t, err)

	n, err = store.Count(ctx, "u1")
	gt.NoError(t, err)
	gt.Equal(t, n, 3)

	n, err = store.Count(ctx, "u2")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func TestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 4)

	_, err := store.Store(ctx, "u1", "note", unit(3, 0), "")
	gt.True(t, errors.Is(err, core.ErrDimensionMismatch))

	_, err = store.Search(ctx, "u1", unit(5, 0), 5, 0)
	gt.True(t, errors.Is(err, core.ErrDimensionMismatch))

	gt.NoError(t, store.Initialize(ctx, 4))
	gt.True(t, errors.Is(store.Initialize(ctx, 8), core.ErrDimensionMismatch))
}

func TestSearchNegativeSimilarity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 3)

	aligned, err := store.Store(ctx, "u1", "aligned", []float32{1, 0, 0}, "")
	gt.NoError(t, err)
	opposed, err := store.Store(ctx, "u1", "opposed", []float32{-1, 0, 0}, "")
	gt.NoError(t, err)

	hits, err := store.Search(ctx, "u1", []float32{1, 0, 0}, 2, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].ID, aligned)

	// Scores are raw cosine values, so an opposed vector shows up as -1.
	hits, err = store.Search(ctx, "u1", []float32{1, 0, 0}, 2, -1)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].ID, aligned)
	gt.True(t, math.Abs(hits[0].Score-1) < 1e-6)
	gt.Equal(t, hits[1].ID, opposed)
	gt.True(t, math.Abs(hits[1].Score+1) < 1e-6)
}

func TestDegenerateVector(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 3)

	_, err := store.Store(ctx, "u1", "blank", []float32{0, 0, 0}, "")
	gt.True(t, errors.Is(err, core.ErrDegenerateVector))

	_, err = store.Store(ctx, "u1", "broken", []float32{float32(math.NaN()), 1, 0}, "")
	gt.True(t, errors.Is(err, core.ErrDegenerateVector))

	n, err := store.Count(ctx, "u1")
	gt.NoError(t, err)
	gt.Equal(t, n, 0)

	_, err = store.Store(ctx, "u1", "real", []float32{1, 0, 0}, "")
	gt.NoError(t, err)

	_, err = store.Search(ctx, "u1", []float32{0, 0, 0}, 1, 0)
	gt.True(t, errors.Is(err, core.ErrDegenerateVector))
}

func TestNotInitialized(t *testing.T) {
	store, err := chromem.New()
	gt.NoError(t, err)

	_, err = store.Store(context.Background(), "u1", "note", unit(4, 0), "")
	gt.True(t, errors.Is(err, core.ErrNotInitialized))

	_, err = store.Count(context.Background(), "u1")
	gt.True(t, errors.Is(err, core.ErrNotInitialized))
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := newStore(t, 4, chromem.WithPersistence(dir, false), chromem.WithCollection("persisted"))
	_, err := store.Store(ctx, "u1", "remember me", unit(4, 2), "test")
	gt.NoError(t, err)
	gt.NoError(t, store.Close())

	reopened := newStore(t, 4, chromem.WithPersistence(dir, false), chromem.WithCollection("persisted"))
	gt.Equal(t, reopened.Collection(), "persisted")

	hits, err := reopened.Search(ctx, "u1", unit(4, 2), 5, 0.5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Payload[memory.FieldText], "remember me")

	mismatched, err := chromem.New(chromem.WithPersistence(dir, false), chromem.WithCollection("persisted"))
	gt.NoError(t, err)
	gt.True(t, errors.Is(mismatched.Initialize(ctx, 8), core.ErrDimensionMismatch))
}
