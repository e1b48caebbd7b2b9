package core

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Request limits and defaults shared by the HTTP surface, the CLI and the engine.
const (
	DefaultLimit        = 5
	MaxLimit            = 50
	DefaultMinScore     = 0.3
	DefaultFaceMinScore = 0.7
)

// BaseInput provides the owner field every operation carries.
// Requests embed this struct so owner validation lives in one place.
type BaseInput struct {
	// UserID is the owner the operation is scoped to.
	UserID string `json:"user_id"`
}

// Owner returns the owner id.
func (b BaseInput) Owner() string {
	return b.UserID
}

// Validate rejects an empty or blank owner.
func (b BaseInput) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return goerr.Wrap(ErrInvalidInput, "user_id is required")
	}
	return nil
}

// StoreRequest is the input of a memory write.
type StoreRequest struct {
	BaseInput
	Content string `json:"content"`
	Context string `json:"context,omitempty"`
}

// Validate rejects empty owners and empty content.
func (r *StoreRequest) Validate() error {
	if err := r.BaseInput.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Content) == "" {
		return goerr.Wrap(ErrInvalidInput, "content is required", goerr.V("user_id", r.UserID))
	}
	return nil
}

// SearchRequest is the input of a memory search. Limit and MinScore are
// pointers so an omitted field can be told apart from an explicit zero.
type SearchRequest struct {
	BaseInput
	Query    string   `json:"query"`
	Limit    *int     `json:"limit,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
}

// Validate checks the request and fills in defaults for omitted fields.
func (r *SearchRequest) Validate() error {
	if err := r.BaseInput.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Query) == "" {
		return goerr.Wrap(ErrInvalidInput, "query is required", goerr.V("user_id", r.UserID))
	}

	if r.Limit == nil {
		limit := DefaultLimit
		r.Limit = &limit
	}
	if *r.Limit < 1 || *r.Limit > MaxLimit {
		return goerr.Wrap(ErrInvalidInput, "limit must be between 1 and 50", goerr.V("limit", *r.Limit))
	}

	if r.MinScore == nil {
		minScore := DefaultMinScore
		r.MinScore = &minScore
	}
	if *r.MinScore < 0 || *r.MinScore > 1 {
		return goerr.Wrap(ErrInvalidInput, "min_score must be between 0 and 1", goerr.V("min_score", *r.MinScore))
	}
	return nil
}

// LimitValue returns the limit, or the default when unset.
func (r *SearchRequest) LimitValue() int {
	if r.Limit == nil {
		return DefaultLimit
	}
	return *r.Limit
}

// MinScoreValue returns the score floor, or the default when unset.
func (r *SearchRequest) MinScoreValue() float64 {
	if r.MinScore == nil {
		return DefaultMinScore
	}
	return *r.MinScore
}

// FaceAddRequest registers a display image under a name.
type FaceAddRequest struct {
	BaseInput
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Validate rejects empty owners and names. The image is opaque and may be empty.
func (r *FaceAddRequest) Validate() error {
	if err := r.BaseInput.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Name) == "" {
		return goerr.Wrap(ErrInvalidInput, "name is required", goerr.V("user_id", r.UserID))
	}
	return nil
}

// FaceFindRequest looks up a display image by name.
type FaceFindRequest struct {
	BaseInput
	Query    string   `json:"query"`
	MinScore *float64 `json:"min_score,omitempty"`
}

// Validate checks the request and defaults MinScore to DefaultFaceMinScore.
func (r *FaceFindRequest) Validate() error {
	if err := r.BaseInput.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Query) == "" {
		return goerr.Wrap(ErrInvalidInput, "query is required", goerr.V("user_id", r.UserID))
	}
	if r.MinScore == nil {
		minScore := DefaultFaceMinScore
		r.MinScore = &minScore
	}
	if *r.MinScore < 0 || *r.MinScore > 1 {
		return goerr.Wrap(ErrInvalidInput, "min_score must be between 0 and 1", goerr.V("min_score", *r.MinScore))
	}
	return nil
}
