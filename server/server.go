// Package server exposes the memory engine and the name matcher over HTTP
// and a websocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/lexical"
	"github.com/t-bank-sirius/LTM/tools"
)

// MemoryService is the part of memory.Manager the server depends on.
type MemoryService interface {
	Ready() bool
	StoreMemory(ctx context.Context, req core.StoreRequest) (string, error)
	SearchMemory(ctx context.Context, req core.SearchRequest) ([]core.Memory, error)
	Stats(ctx context.Context, ownerID string) (*core.MemoryStats, error)
}

// FaceService is the part of lexical.Matcher the server depends on.
type FaceService interface {
	Add(ownerID, name, payload string) (string, error)
	Find(ownerID, query string, minScore float64) (lexical.Result, error)
}

const defaultMaxBodyBytes = 10 << 20

// Server routes requests to the memory engine and the name matcher.
type Server struct {
	memory       MemoryService
	faces        FaceService
	guardrails   Guardrails
	logger       *slog.Logger
	maxBodyBytes int64
	upgrader     websocket.Upgrader
	ops          map[string]operation
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGuardrails sets the guardrails consulted before every operation.
func WithGuardrails(g Guardrails) Option {
	return func(s *Server) {
		s.guardrails = g
	}
}

// WithMaxBodyBytes caps request bodies and websocket frames.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// New creates a Server.
func New(mem MemoryService, faces FaceService, opts ...Option) *Server {
	s := &Server{
		memory:       mem,
		faces:        faces,
		logger:       slog.Default(),
		maxBodyBytes: defaultMaxBodyBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	s.ops = s.operations()
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /memory/store", s.handleOp(tools.OpStoreMemory))
	mux.HandleFunc("POST /search", s.handleOp(tools.OpSearchMemory))
	mux.HandleFunc("GET /memory/stats/{user_id}", s.handleStats)
	mux.HandleFunc("POST /face/add", s.handleOp(tools.OpAddFace))
	mux.HandleFunc("POST /face/find", s.handleOp(tools.OpFindFace))
	mux.HandleFunc("GET /v1/operations", s.handleOperations)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	return chain(mux, s.recoverer, s.requestLogger, cors)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "http server failed", goerr.V("addr", addr))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "graceful shutdown failed")
	}
	return nil
}
