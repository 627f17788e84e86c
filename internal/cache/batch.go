package cache

import (
	"context"
	"sync"
	"time"
)

// BatchResult holds the outcome of one operation in a batch.
type BatchResult[T any] struct {
	Value T
	Err   error
}

// ExecuteBatch issues all operations concurrently and collects results
// in input order. The concurrency is the performance contract: a batch
// of N cache round trips costs one round trip of latency, not N. One
// failed element never fails the batch; each result carries its own
// error.
func ExecuteBatch[T any](ctx context.Context, ops []func(context.Context) (T, error)) []BatchResult[T] {
	results := make([]BatchResult[T], len(ops))

	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op func(context.Context) (T, error)) {
			defer wg.Done()
			v, err := op(ctx)
			results[i] = BatchResult[T]{Value: v, Err: err}
		}(i, op)
	}
	wg.Wait()

	return results
}

// MGet reads several keys concurrently, returning raw values keyed by
// cache key. Absent, corrupt, or failed entries are simply omitted.
func (c *Cache) MGet(ctx context.Context, keys []string) (map[string]string, error) {
	ops := make([]func(context.Context) (string, error), len(keys))
	for i, key := range keys {
		key := key
		ops[i] = func(ctx context.Context) (string, error) {
			val, found, err := c.store.Get(ctx, key)
			if err != nil {
				return "", err
			}
			if !found {
				return "", errMiss
			}
			return val, nil
		}
	}

	out := make(map[string]string, len(keys))
	for i, res := range ExecuteBatch(ctx, ops) {
		if res.Err != nil {
			continue
		}
		out[keys[i]] = res.Value
	}
	return out, nil
}

// MSet writes several values concurrently with one TTL. Returns how
// many writes succeeded.
func (c *Cache) MSet(ctx context.Context, entries map[string]any, ttl time.Duration) (int, error) {
	keys := make([]string, 0, len(entries))
	ops := make([]func(context.Context) (struct{}, error), 0, len(entries))
	for key, value := range entries {
		key, value := key, value
		keys = append(keys, key)
		ops = append(ops, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.SetWithTTL(ctx, key, value, ttl)
		})
	}

	written := 0
	var firstErr error
	for _, res := range ExecuteBatch(ctx, ops) {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		written++
	}
	return written, firstErr
}

// MDel deletes several keys concurrently.
func (c *Cache) MDel(ctx context.Context, keys []string) error {
	ops := make([]func(context.Context) (struct{}, error), len(keys))
	for i, key := range keys {
		key := key
		ops[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.store.Delete(ctx, key)
		}
	}

	var firstErr error
	for _, res := range ExecuteBatch(ctx, ops) {
		if res.Err != nil && firstErr == nil {
			firstErr = res.Err
		}
	}
	return firstErr
}
