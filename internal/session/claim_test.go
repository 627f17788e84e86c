package session

import (
	"context"
	"testing"

	"github.com/kelvinguchu/t3clone-sub002/internal/store"

	"github.com/stretchr/testify/require"
)

func TestClaim_MigratesThreadsAndRetainsSessionID(t *testing.T) {
	ctx := context.Background()
	m, durable := newTestManager(t, WithMessageLimit(10))

	s, _, err := m.Resolve(ctx, "", "", "ip-hash")
	require.NoError(t, err)

	thread := &store.Thread{SessionID: s.SessionID, IPHash: "ip-hash", IsAnonymous: true}
	require.NoError(t, durable.CreateThread(ctx, thread))

	// Spend part of the window budget before signing in.
	for i := 0; i < 4; i++ {
		require.NoError(t, m.IncrementMessageCount(ctx, s))
	}

	result, err := m.Claim(ctx, s.SessionID, "", "user-1")
	require.NoError(t, err)
	require.False(t, result.AlreadyClaimed)
	require.Equal(t, 1, result.ThreadsClaimed)
	require.Equal(t, int64(4), result.MergedCount)

	claimed, err := durable.Thread(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", claimed.UserID)
	require.False(t, claimed.IsAnonymous)
	// Deliberate: session linkage survives migration.
	require.Equal(t, s.SessionID, claimed.SessionID)

	// The spend followed the user; signing in is not a budget refresh.
	remaining, err := m.limiter.RemainingRequests(ctx, "user:user-1", m.windowSeconds, m.messageLimit)
	require.NoError(t, err)
	require.Equal(t, 6, remaining)
}

func TestClaim_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, durable := newTestManager(t)

	s, _, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)

	thread := &store.Thread{SessionID: s.SessionID, IsAnonymous: true}
	require.NoError(t, durable.CreateThread(ctx, thread))

	first, err := m.Claim(ctx, s.SessionID, "", "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.ThreadsClaimed)

	// Apply twice = apply once: retries and duplicate effect
	// invocations are expected.
	second, err := m.Claim(ctx, s.SessionID, "", "user-1")
	require.NoError(t, err)
	require.True(t, second.AlreadyClaimed)
	require.Equal(t, 0, second.ThreadsClaimed)

	claimed, err := durable.Thread(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", claimed.UserID)
}

func TestClaim_InFlightLeaseBlocksConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	m, durable := newTestManager(t)

	s, _, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)

	thread := &store.Thread{SessionID: s.SessionID, IsAnonymous: true}
	require.NoError(t, durable.CreateThread(ctx, thread))

	// Another instance already holds the claim lease.
	acquired, err := m.kv.SetIfAbsent(ctx, claimMarkerKey(s.SessionID), "user-2", claimMarkerTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	result, err := m.Claim(ctx, s.SessionID, "", "user-1")
	require.NoError(t, err)
	require.True(t, result.AlreadyClaimed)
	require.Equal(t, 0, result.ThreadsClaimed)

	claimed, err := durable.Thread(ctx, thread.ID)
	require.NoError(t, err)
	require.Empty(t, claimed.UserID)
}

func TestClaim_FallsBackToIPHashLookup(t *testing.T) {
	ctx := context.Background()
	m, durable := newTestManager(t)

	s, _, err := m.Resolve(ctx, "", "", "ip-hash")
	require.NoError(t, err)

	thread := &store.Thread{SessionID: s.SessionID, IPHash: "ip-hash", IsAnonymous: true}
	require.NoError(t, durable.CreateThread(ctx, thread))

	// Cookie lost between redirects; the IP index still correlates.
	result, err := m.Claim(ctx, "", "ip-hash", "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.ThreadsClaimed)
}

func TestClaim_UnknownSessionIsNoOp(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	result, err := m.Claim(ctx, "ghost", "", "user-1")
	require.NoError(t, err)
	require.True(t, result.AlreadyClaimed)
	require.Equal(t, 0, result.ThreadsClaimed)
}
