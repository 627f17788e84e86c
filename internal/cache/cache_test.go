package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/kv"

	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	store, err := kv.NewStore(kv.StoreTypeMemory)
	require.NoError(t, err)
	return New(store)
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.SetWithTTL(ctx, "k1", payload{Name: "a", Count: 2}, time.Minute))

	var got payload
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload{Name: "a", Count: 2}, got)
}

func TestCache_MissingKeyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var got payload
	found, err := c.Get(ctx, "absent", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCache_CorruptEntryDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Store().SetWithTTL(ctx, "bad", "{not json", time.Minute))

	var got payload
	found, err := c.Get(ctx, "bad", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCache_PartialDecodeLeavesDestUntouched(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	// Valid JSON whose later field fails to decode; "name" would be
	// written before "count" errors.
	require.NoError(t, c.Store().SetWithTTL(ctx, "bad", `{"name":"ghost","count":"NaN"}`, time.Minute))

	got := payload{Name: "seed", Count: 7}
	found, err := c.Get(ctx, "bad", &got)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, payload{Name: "seed", Count: 7}, got)
}

func TestExecuteBatch_PreservesInputOrder(t *testing.T) {
	ctx := context.Background()

	ops := make([]func(context.Context) (int, error), 20)
	for i := range ops {
		i := i
		ops[i] = func(context.Context) (int, error) {
			return i * i, nil
		}
	}

	results := ExecuteBatch(ctx, ops)
	require.Len(t, results, 20)
	for i, res := range results {
		require.NoError(t, res.Err)
		require.Equal(t, i*i, res.Value)
	}
}

func TestExecuteBatch_OneFailureDoesNotSinkTheBatch(t *testing.T) {
	ctx := context.Background()

	ops := []func(context.Context) (string, error){
		func(context.Context) (string, error) { return "ok", nil },
		func(context.Context) (string, error) { return "", fmt.Errorf("boom") },
		func(context.Context) (string, error) { return "also ok", nil },
	}

	results := ExecuteBatch(ctx, ops)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	require.Equal(t, "also ok", results[2].Value)
}

func TestCache_BatchConveniences(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	written, err := c.MSet(ctx, map[string]any{
		"a": payload{Name: "a"},
		"b": payload{Name: "b"},
		"c": payload{Name: "c"},
	}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, written)

	got, err := c.MGet(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, "a")
	require.Contains(t, got, "b")

	require.NoError(t, c.MDel(ctx, []string{"a", "b", "c"}))

	var unused payload
	found, err := c.Get(ctx, "a", &unused)
	require.NoError(t, err)
	require.False(t, found)
}
