// Package cache provides the typed JSON layer over the raw key-value
// store. Values are serialized on write and parsed on read; a value
// that fails to parse degrades to a cache miss so corruption can always
// be recovered by recomputing from the durable store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/kv"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
)

// errMiss marks an absent key inside batch operations; it never leaves
// this package.
var errMiss = errors.New("cache miss")

type Cache struct {
	store kv.Store
}

func New(store kv.Store) *Cache {
	return &Cache{store: store}
}

// Store exposes the underlying key-value store for callers that need
// counter or key-scan primitives directly.
func (c *Cache) Store() kv.Store {
	return c.store
}

// Get reads key and unmarshals it into dest. Returns false on absence
// and on parse failure; callers always receive a structurally-typed
// value or nothing. The decode goes through a scratch value so a failed
// parse never leaves partially-written fields in dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return false, errors.New("cache: dest must be a non-nil pointer")
	}

	scratch := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(raw), scratch.Interface()); err != nil {
		logger.Warn("cache entry failed to parse, treating as miss", map[string]any{
			"key": key,
		})
		return false, nil
	}

	rv.Elem().Set(scratch.Elem())
	return true, nil
}

func (c *Cache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.SetWithTTL(ctx, key, string(data), ttl)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
