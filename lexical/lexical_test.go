package lexical_test

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/lexical"
)

func TestSimilarity(t *testing.T) {
	testCases := []struct {
		a, b string
		want float64
	}{
		{"Alice Smith", "alice smith", 1},
		{"Alice Smith", "ALICE   SMITH", 1},
		{"Alice", "Alice Smith", 1 / math.Sqrt(2)},
		{"Bob", "Alice Smith", 0},
		{"", "Alice", 0},
		{"a a b", "a b", 3 / (math.Sqrt(5) * math.Sqrt(2))},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q vs %q", tc.a, tc.b), func(t *testing.T) {
			got := lexical.Similarity(tc.a, tc.b)
			gt.True(t, math.Abs(got-tc.want) < 1e-9)
		})
	}
}

func TestMatcherExactMatch(t *testing.T) {
	m := lexical.New()

	id, err := m.Add("u1", "Alice Smith", "data:image/png;base64,AAA")
	gt.NoError(t, err)

	res, err := m.Find("u1", "alice smith", core.DefaultFaceMinScore)
	gt.NoError(t, err)
	gt.True(t, res.Found)
	gt.Equal(t, res.Entry.ID, id)
	gt.Equal(t, res.Entry.Payload, "data:image/png;base64,AAA")
	gt.True(t, math.Abs(res.Score-1) < 1e-9)
}

func TestMatcherOwnerIsolation(t *testing.T) {
	m := lexical.New()

	_, err := m.Add("u1", "Alice Smith", "img")
	gt.NoError(t, err)

	res, err := m.Find("u2", "Alice Smith", core.DefaultFaceMinScore)
	gt.NoError(t, err)
	gt.False(t, res.Found)
}

func TestMatcherThreshold(t *testing.T) {
	m := lexical.New()
	_, err := m.Add("u1", "Alice Smith", "img")
	gt.NoError(t, err)

	// 1/sqrt(2) is just above 0.7
	res, err := m.Find("u1", "Alice", 0.7)
	gt.NoError(t, err)
	gt.True(t, res.Found)

	res, err = m.Find("u1", "Alice", 0.8)
	gt.NoError(t, err)
	gt.False(t, res.Found)

	res, err = m.Find("u1", "Bob", 0)
	gt.NoError(t, err)
	gt.False(t, res.Found)
}

func TestMatcherFirstBestWins(t *testing.T) {
	m := lexical.New()
	first, err := m.Add("u1", "Alice", "first")
	gt.NoError(t, err)
	_, err = m.Add("u1", "alice", "second")
	gt.NoError(t, err)

	res, err := m.Find("u1", "ALICE", 0.7)
	gt.NoError(t, err)
	gt.True(t, res.Found)
	gt.Equal(t, res.Entry.ID, first)
	gt.Equal(t, res.Entry.Payload, "first")
}

func TestMatcherSequentialIDs(t *testing.T) {
	m := lexical.New()

	id1, err := m.Add("u1", "Alice", "")
	gt.NoError(t, err)
	id2, err := m.Add("u2", "Bob", "")
	gt.NoError(t, err)

	gt.Equal(t, id1, "1")
	gt.Equal(t, id2, "2")
	gt.Equal(t, m.Len("u1"), 1)
}

func TestMatcherRejectsInvalidInput(t *testing.T) {
	m := lexical.New()

	_, err := m.Add("", "Alice", "")
	gt.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = m.Add("u1", " ", "")
	gt.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = m.Find("", "Alice", 0.7)
	gt.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestMatcherConcurrentAdd(t *testing.T) {
	m := lexical.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Add("u1", fmt.Sprintf("name %d", i), "")
			gt.NoError(t, err)
			_, err = m.Find("u1", "name", 0.5)
			gt.NoError(t, err)
		}(i)
	}
	wg.Wait()

	gt.Equal(t, m.Len("u1"), 50)
}
