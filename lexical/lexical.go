// Package lexical matches display names by token overlap.
//
// Entries live only in process memory and are lost on restart. Callers that
// need durable names should keep them elsewhere and re-register on startup.
package lexical

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
)

// Entry is a name registered by an owner together with its opaque payload.
type Entry struct {
	ID      string `json:"id"`
	OwnerID string `json:"user_id"`
	Name    string `json:"name"`
	Payload string `json:"image"`
}

// Result is the outcome of Find. Found is false when no entry reached the floor.
type Result struct {
	Found bool
	Entry Entry
	Score float64
}

// Matcher holds named entries per owner.
type Matcher struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	nextID  uint64
	logger  *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger used for add/find events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// New creates an empty Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		entries: make(map[string][]Entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "lexical")
	return m
}

// Add registers name for ownerID and returns the new entry's id.
// Ids are sequential decimal strings shared across all owners.
func (m *Matcher) Add(ownerID, name, payload string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", goerr.Wrap(core.ErrInvalidInput, "owner id is required")
	}
	if strings.TrimSpace(name) == "" {
		return "", goerr.Wrap(core.ErrInvalidInput, "name is required", goerr.V("owner_id", ownerID))
	}

	m.mu.Lock()
	m.nextID++
	id := strconv.FormatUint(m.nextID, 10)
	m.entries[ownerID] = append(m.entries[ownerID], Entry{
		ID:      id,
		OwnerID: ownerID,
		Name:    name,
		Payload: payload,
	})
	m.mu.Unlock()

	m.logger.Info("name added", "owner_id", ownerID, "id", id, "name", name)
	return id, nil
}

// Find returns the owner's entry whose name is most similar to query.
// The first entry with the strictly highest score wins, and it is reported
// only when the score reaches minScore.
func (m *Matcher) Find(ownerID, query string, minScore float64) (Result, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Result{}, goerr.Wrap(core.ErrInvalidInput, "owner id is required")
	}

	m.mu.RLock()
	snapshot := make([]Entry, len(m.entries[ownerID]))
	copy(snapshot, m.entries[ownerID])
	m.mu.RUnlock()

	var (
		best      Entry
		bestScore float64
		found     bool
	)
	for _, entry := range snapshot {
		score := Similarity(query, entry.Name)
		if score > bestScore {
			best = entry
			bestScore = score
			found = true
		}
	}

	if !found || bestScore < minScore {
		m.logger.Info("name not found", "owner_id", ownerID, "query", query, "best_score", bestScore)
		return Result{}, nil
	}

	m.logger.Info("name matched", "owner_id", ownerID, "query", query, "id", best.ID, "score", bestScore)
	return Result{Found: true, Entry: best, Score: bestScore}, nil
}

// Len returns how many entries ownerID has registered.
func (m *Matcher) Len(ownerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[ownerID])
}

// Similarity is the cosine of the term-frequency vectors of a and b after
// case folding and whitespace tokenization. It is 0 when either side has no tokens.
func Similarity(a, b string) float64 {
	ta := termFrequency(a)
	tb := termFrequency(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for term, ca := range ta {
		normA += float64(ca * ca)
		dot += float64(ca * tb[term])
	}
	for _, cb := range tb {
		normB += float64(cb * cb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termFrequency(s string) map[string]int {
	tf := make(map[string]int)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tf[tok]++
	}
	return tf
}
