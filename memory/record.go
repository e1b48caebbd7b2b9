package memory

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
)

// TimeLayout is how created_at is rendered in payloads and responses.
const TimeLayout = "2006-01-02 15:04:05"

// Payload keys shared by every Store implementation.
const (
	FieldOwnerID   = "owner_id"
	FieldText      = "text"
	FieldContext   = "context"
	FieldCreatedAt = "created_at"
)

// Record is one stored note. Text and vector never change after creation.
type Record struct {
	ID        string
	OwnerID   string
	Text      string
	Context   string
	Vector    []float32
	CreatedAt time.Time
}

// NewRecord creates a Record with a fresh UUIDv4 and the current UTC time
// truncated to the second.
func NewRecord(ownerID, text, contextTag string, vector []float32) *Record {
	return &Record{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Text:      text,
		Context:   contextTag,
		Vector:    vector,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// NewRecordFromPayload rebuilds a Record from stored fields.
// This is used by Store implementations and the Manager when reading hits.
// A payload without owner, text or a parseable timestamp is malformed.
func NewRecordFromPayload(id string, payload map[string]string) (*Record, error) {
	ownerID := payload[FieldOwnerID]
	text := payload[FieldText]
	createdAt := payload[FieldCreatedAt]

	switch {
	case ownerID == "":
		return nil, goerr.New("payload has no owner", goerr.V("id", id))
	case text == "":
		return nil, goerr.New("payload has no text", goerr.V("id", id))
	case createdAt == "":
		return nil, goerr.New("payload has no timestamp", goerr.V("id", id))
	}

	ts, err := time.Parse(TimeLayout, createdAt)
	if err != nil {
		return nil, goerr.Wrap(err, "payload timestamp is malformed", goerr.V("id", id), goerr.V("created_at", createdAt))
	}

	return &Record{
		ID:        id,
		OwnerID:   ownerID,
		Text:      text,
		Context:   payload[FieldContext],
		CreatedAt: ts,
	}, nil
}

// Payload returns the stored fields of r. The context key is omitted when empty.
func (r *Record) Payload() map[string]string {
	payload := map[string]string{
		FieldOwnerID:   r.OwnerID,
		FieldText:      r.Text,
		FieldCreatedAt: r.CreatedAt.Format(TimeLayout),
	}
	if r.Context != "" {
		payload[FieldContext] = r.Context
	}
	return payload
}

// CheckVector rejects vectors that have no direction or carry NaN or Inf.
func CheckVector(vec []float32) error {
	var norm float64
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return goerr.Wrap(core.ErrDegenerateVector, "vector has a non-finite component", goerr.V("index", i))
		}
		norm += f * f
	}
	if norm == 0 {
		return goerr.Wrap(core.ErrDegenerateVector, "vector has zero length", goerr.V("dimensions", len(vec)))
	}
	return nil
}

// EmbeddingText returns the text encoded for a document with an optional context tag.
func EmbeddingText(content, contextTag string) string {
	if contextTag == "" {
		return content
	}
	return content + " context: " + contextTag
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
// A non-positive maxLen disables truncation.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
