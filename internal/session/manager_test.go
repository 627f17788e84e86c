package session

import (
	"context"
	"testing"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
	"github.com/kelvinguchu/t3clone-sub002/internal/kv"
	"github.com/kelvinguchu/t3clone-sub002/internal/ratelimit"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"

	"github.com/stretchr/testify/require"
)

func ratelimitWithNow(kvs kv.Store, at time.Time) *ratelimit.Limiter {
	return ratelimit.NewWithClock(kvs, func() time.Time { return at })
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *store.Memory) {
	t.Helper()

	kvs, err := kv.NewStore(kv.StoreTypeMemory)
	require.NoError(t, err)

	c := cache.New(kvs)
	durable := store.NewMemory()
	m := NewManager(c, durable, ratelimit.New(kvs), opts...)
	return m, durable
}

func TestResolve_MintsNewSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, created, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, s.SessionID)
	require.Equal(t, StateActive, s.State)
	require.Equal(t, 0, s.MessageCount)
	require.Equal(t, m.messageLimit, s.MessageLimit)
}

func TestResolve_ReturnsExistingSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	first, _, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)

	second, created, err := m.Resolve(ctx, first.SessionID, "", "")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.SessionID, second.SessionID)
}

func TestResolve_UnknownIDRecreatesSilently(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, created, err := m.Resolve(ctx, "no-such-session", "", "")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, "no-such-session", s.SessionID)
}

func TestResolve_RecoversByFingerprint(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	first, _, err := m.Resolve(ctx, "", "fp-hash", "ip-hash")
	require.NoError(t, err)

	// Same visitor, lost cookie: recovery instead of a duplicate
	// session.
	second, created, err := m.Resolve(ctx, "", "fp-hash", "")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.SessionID, second.SessionID)

	third, created, err := m.Resolve(ctx, "", "", "ip-hash")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.SessionID, third.SessionID)
}

func TestIncrementMessageCount_EnforcesBudget(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, WithMessageLimit(3))

	s, _, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.IncrementMessageCount(ctx, s))
	}
	require.Equal(t, 3, s.MessageCount)
	require.Equal(t, 0, s.Remaining())

	err = m.IncrementMessageCount(ctx, s)
	require.ErrorIs(t, err, ErrLimitExceeded)
	require.Equal(t, 3, s.MessageCount)
}

func TestIncrementMessageCount_WindowRollRestoresBudget(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, WithMessageLimit(2), WithWindowSeconds(60))

	base := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return base }
	m.limiter = ratelimitWithNow(m.kv, base)

	s, _, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)

	require.NoError(t, m.IncrementMessageCount(ctx, s))
	require.NoError(t, m.IncrementMessageCount(ctx, s))
	require.ErrorIs(t, m.IncrementMessageCount(ctx, s), ErrLimitExceeded)

	later := base.Add(2 * time.Minute)
	m.now = func() time.Time { return later }
	m.limiter = ratelimitWithNow(m.kv, later)

	require.NoError(t, m.IncrementMessageCount(ctx, s))
	require.Equal(t, 1, s.MessageCount)
}

func TestGet_RefreshesAndReturnsNilForUnknown(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	none, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, none)

	s, _, err := m.Resolve(ctx, "", "", "")
	require.NoError(t, err)

	got, err := m.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, s.SessionID, got.SessionID)
}

func TestDelete_RemovesSessionAndIndexes(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, _, err := m.Resolve(ctx, "", "fp", "ip")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, s.SessionID))

	got, err := m.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.Nil(t, got)

	// Recovery indexes are gone too: resolving again mints fresh.
	again, created, err := m.Resolve(ctx, "", "fp", "ip")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, s.SessionID, again.SessionID)
}
