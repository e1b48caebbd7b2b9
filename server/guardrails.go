package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Guardrails decides whether an owner may run another operation.
type Guardrails interface {
	Check(ctx context.Context, userID string) (*GuardrailResult, error)
	RecordSuccess(ctx context.Context, userID string)
}

// GuardrailResult is the outcome of a Guardrails check.
type GuardrailResult struct {
	Allowed bool
	Warning string
}

// RateGuardrails applies a token bucket per owner and keeps per-owner usage counters.
type RateGuardrails struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*ownerLimiter
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

type ownerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	usage    Usage
}

// Usage counts an owner's operations since the owner was last seen as idle.
type Usage struct {
	Allowed   uint64
	Rejected  uint64
	Succeeded uint64
}

// RateOption configures RateGuardrails.
type RateOption func(*RateGuardrails)

// WithRateLogger sets the logger used for usage accounting.
func WithRateLogger(logger *slog.Logger) RateOption {
	return func(g *RateGuardrails) {
		g.logger = logger.With("component", "guardrails")
	}
}

// NewRateGuardrails allows perSecond operations per owner with the given burst.
func NewRateGuardrails(perSecond float64, burst int, opts ...RateOption) *RateGuardrails {
	if burst < 1 {
		burst = 1
	}
	g := &RateGuardrails{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*ownerLimiter),
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		logger:   slog.Default().With("component", "guardrails"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check consumes one token from the owner's bucket.
func (g *RateGuardrails) Check(_ context.Context, userID string) (*GuardrailResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.evict(now)

	ol, ok := g.limiters[userID]
	if !ok {
		ol = &ownerLimiter{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.limiters[userID] = ol
	}
	ol.lastSeen = now

	if !ol.limiter.AllowN(now, 1) {
		ol.usage.Rejected++
		return &GuardrailResult{
			Allowed: false,
			Warning: "too many requests for this user, slow down",
		}, nil
	}
	ol.usage.Allowed++
	return &GuardrailResult{Allowed: true}, nil
}

// RecordSuccess counts an operation that passed Check and completed without error.
func (g *RateGuardrails) RecordSuccess(ctx context.Context, userID string) {
	g.mu.Lock()
	ol, ok := g.limiters[userID]
	if !ok {
		g.mu.Unlock()
		return
	}
	ol.lastSeen = g.now()
	ol.usage.Succeeded++
	usage := ol.usage
	g.mu.Unlock()

	g.logger.DebugContext(ctx, "operation succeeded",
		"user_id", userID,
		"succeeded", usage.Succeeded,
		"failed", usage.Allowed-usage.Succeeded,
		"rejected", usage.Rejected,
	)
}

// Usage returns the counters for userID. Unknown or evicted owners report zero.
func (g *RateGuardrails) Usage(userID string) Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ol, ok := g.limiters[userID]; ok {
		return ol.usage
	}
	return Usage{}
}

// evict drops limiters idle for longer than idleTTL. Caller holds mu.
func (g *RateGuardrails) evict(now time.Time) {
	if now.Sub(g.lastSweep) < time.Minute {
		return
	}
	g.lastSweep = now
	for id, ol := range g.limiters {
		if now.Sub(ol.lastSeen) > g.idleTTL {
			g.logger.Debug("evicting idle owner",
				"user_id", id,
				"allowed", ol.usage.Allowed,
				"rejected", ol.usage.Rejected,
				"succeeded", ol.usage.Succeeded,
			)
			delete(g.limiters, id)
		}
	}
}
