package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/kv"

	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	store, err := kv.NewStore(kv.StoreTypeMemory)
	require.NoError(t, err)
	return New(store)
}

func TestCheckLimit_Monotonicity(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t)

	// Exactly the first maxRequests calls pass, every later one fails.
	for i := 0; i < 5; i++ {
		allowed, err := l.CheckLimit(ctx, "visitor", 3600, 5)
		require.NoError(t, err)
		require.True(t, allowed, "call %d should be allowed", i+1)
	}
	for i := 0; i < 3; i++ {
		allowed, err := l.CheckLimit(ctx, "visitor", 3600, 5)
		require.NoError(t, err)
		require.False(t, allowed)
	}
}

func TestCheckLimit_WindowRollover(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t)

	base := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		allowed, err := l.CheckLimit(ctx, "visitor", 60, 2)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := l.CheckLimit(ctx, "visitor", 60, 2)
	require.NoError(t, err)
	require.False(t, allowed)

	// Next window: counters start from zero, no carry-over.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	allowed, err = l.CheckLimit(ctx, "visitor", 60, 2)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRemainingRequests_DoesNotIncrement(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t)

	remaining, err := l.RemainingRequests(ctx, "visitor", 3600, 10)
	require.NoError(t, err)
	require.Equal(t, 10, remaining)

	_, err = l.CheckLimit(ctx, "visitor", 3600, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		remaining, err = l.RemainingRequests(ctx, "visitor", 3600, 10)
		require.NoError(t, err)
		require.Equal(t, 9, remaining)
	}
}

func TestCheckMultipleLimits_SkipsLimitedIdentities(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t)

	// Exhaust "hot" beforehand.
	for i := 0; i < 2; i++ {
		_, err := l.CheckLimit(ctx, "hot", 3600, 2)
		require.NoError(t, err)
	}

	allowed, err := l.CheckMultipleLimits(ctx, []string{"hot", "cold"}, 3600, 2)
	require.NoError(t, err)
	require.False(t, allowed["hot"])
	require.True(t, allowed["cold"])

	// "hot" must not have been incremented past the limit.
	remaining, err := l.RemainingRequests(ctx, "hot", 3600, 2)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	// "cold" consumed exactly one slot.
	remaining, err = l.RemainingRequests(ctx, "cold", 3600, 2)
	require.NoError(t, err)
	require.Equal(t, 1, remaining)
}
