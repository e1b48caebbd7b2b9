package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/tools"
)

// operation runs one named operation on a raw JSON payload.
type operation func(ctx context.Context, payload json.RawMessage) (any, error)

type ownedRequest interface {
	Owner() string
}

// StoreResponse is returned by store_memory.
type StoreResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	MemoryID string `json:"memory_id"`
	UserID   string `json:"user_id"`
}

// FaceAddResponse is returned by add_face.
type FaceAddResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	FaceID  string `json:"face_id"`
	UserID  string `json:"user_id"`
}

// FaceFindResponse is returned by find_face. Image and Score are set only on a match.
type FaceFindResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Image   *string  `json:"image,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

// HealthResponse is returned by the root route.
type HealthResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
}

func (s *Server) operations() map[string]operation {
	return map[string]operation{
		tools.OpStoreMemory:  bind(s, s.storeMemory),
		tools.OpSearchMemory: bind(s, s.searchMemory),
		tools.OpMemoryStats:  bind(s, s.memoryStats),
		tools.OpAddFace:      bind(s, s.addFace),
		tools.OpFindFace:     bind(s, s.findFace),
	}
}

// bind decodes the payload into T, consults the guardrails for its owner and
// then runs fn.
func bind[T ownedRequest](s *Server, fn func(context.Context, T) (any, error)) operation {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req T
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, goerr.Wrap(core.ErrInvalidInput, "malformed request body", goerr.V("error", err.Error()))
		}

		owner := strings.TrimSpace(req.Owner())
		if s.guardrails != nil && owner != "" {
			result, err := s.guardrails.Check(ctx, owner)
			if err != nil {
				return nil, goerr.Wrap(err, "guardrails check failed", goerr.V("user_id", owner))
			}
			if !result.Allowed {
				return nil, goerr.Wrap(ErrRateLimited, result.Warning, goerr.V("user_id", owner))
			}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}

		if s.guardrails != nil && owner != "" {
			s.guardrails.RecordSuccess(ctx, owner)
		}
		return resp, nil
	}
}

func (s *Server) storeMemory(ctx context.Context, req core.StoreRequest) (any, error) {
	id, err := s.memory.StoreMemory(ctx, req)
	if err != nil {
		return nil, err
	}
	return &StoreResponse{
		Status:   "success",
		Message:  "Memory stored successfully",
		MemoryID: id,
		UserID:   req.UserID,
	}, nil
}

func (s *Server) searchMemory(ctx context.Context, req core.SearchRequest) (any, error) {
	memories, err := s.memory.SearchMemory(ctx, req)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []core.Memory{}
	}
	return memories, nil
}

func (s *Server) memoryStats(ctx context.Context, req core.BaseInput) (any, error) {
	return s.memory.Stats(ctx, req.UserID)
}

func (s *Server) addFace(_ context.Context, req core.FaceAddRequest) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id, err := s.faces.Add(req.UserID, req.Name, req.Image)
	if err != nil {
		return nil, err
	}
	return &FaceAddResponse{
		Status:  "success",
		Message: "Face added successfully",
		FaceID:  id,
		UserID:  req.UserID,
	}, nil
}

func (s *Server) findFace(_ context.Context, req core.FaceFindRequest) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	result, err := s.faces.Find(req.UserID, req.Query, *req.MinScore)
	if err != nil {
		return nil, err
	}
	if !result.Found {
		return &FaceFindResponse{
			Status:  "not_found",
			Message: "No matching face found",
		}, nil
	}
	return &FaceFindResponse{
		Status:  "success",
		Message: "Face found",
		Image:   &result.Entry.Payload,
		Score:   &result.Score,
	}, nil
}

// handleOp serves a POST route backed by a named operation.
func (s *Server) handleOp(name string) http.HandlerFunc {
	op := s.ops[name]
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			s.writeError(w, r, goerr.Wrap(core.ErrInvalidInput, "request body too large or unreadable", goerr.V("error", err.Error())))
			return
		}

		result, err := op(r.Context(), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(core.BaseInput{UserID: r.PathValue("user_id")})
	if err != nil {
		s.writeError(w, r, goerr.Wrap(err, "failed to encode stats request"))
		return
	}

	result, err := s.ops[tools.OpMemoryStats](r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &HealthResponse{
		Message: "LTM Memory Service is running",
		Status:  "healthy",
		Ready:   s.memory.Ready(),
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": tools.Operations(),
		"websocket":  tools.EnvelopeSchema(),
	})
}
