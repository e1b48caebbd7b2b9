package server

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestRateGuardrailsRefill(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	g := NewRateGuardrails(1, 2)
	g.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		result, err := g.Check(ctx, "u1")
		gt.NoError(t, err)
		gt.True(t, result.Allowed)
	}

	result, err := g.Check(ctx, "u1")
	gt.NoError(t, err)
	gt.False(t, result.Allowed)
	gt.True(t, result.Warning != "")

	now = now.Add(time.Second)
	result, err = g.Check(ctx, "u1")
	gt.NoError(t, err)
	gt.True(t, result.Allowed)
}

func TestRateGuardrailsEvictsIdleOwners(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	g := NewRateGuardrails(1, 1)
	g.now = func() time.Time { return now }

	_, err := g.Check(ctx, "idle")
	gt.NoError(t, err)
	gt.Equal(t, len(g.limiters), 1)

	now = now.Add(g.idleTTL + time.Minute)
	_, err = g.Check(ctx, "active")
	gt.NoError(t, err)

	_, stillThere := g.limiters["idle"]
	gt.False(t, stillThere)
	gt.Equal(t, len(g.limiters), 1)
}

func TestRateGuardrailsUsage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	g := NewRateGuardrails(1, 2)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := g.Check(ctx, "u1")
		gt.NoError(t, err)
	}
	g.RecordSuccess(ctx, "u1")

	gt.Equal(t, g.Usage("u1"), Usage{Allowed: 2, Rejected: 1, Succeeded: 1})

	// Owners that never passed Check are not tracked.
	g.RecordSuccess(ctx, "ghost")
	gt.Equal(t, g.Usage("ghost"), Usage{})
	_, tracked := g.limiters["ghost"]
	gt.False(t, tracked)
}

func TestRateGuardrailsSuccessKeepsOwnerAlive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	g := NewRateGuardrails(1, 1)
	g.now = func() time.Time { return now }

	_, err := g.Check(ctx, "slow")
	gt.NoError(t, err)

	// A long-running operation finishes just before the owner would go idle.
	now = now.Add(g.idleTTL - time.Second)
	g.RecordSuccess(ctx, "slow")

	now = now.Add(2 * time.Minute)
	_, err = g.Check(ctx, "other")
	gt.NoError(t, err)

	gt.Equal(t, g.Usage("slow").Succeeded, uint64(1))
}
