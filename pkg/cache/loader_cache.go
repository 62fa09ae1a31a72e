// Package cache provides a generic loader cache combining LRU storage with
// singleflight to coalesce concurrent loads for the same key.
package cache

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidSize is returned when maxEntries is not positive.
var ErrInvalidSize = errors.New("cache: max entries must be positive")

// store is the subset shared by lru.Cache and expirable.LRU.
type store[V any] interface {
	Get(key string) (V, bool)
	Add(key string, value V) bool
	Remove(key string) bool
	Purge()
	Len() int
}

// Options configures a LoaderCache.
// TTL <= 0 keeps entries until they are evicted by size or invalidated.
type Options struct {
	MaxEntries int
	TTL        time.Duration
}

// LoaderCache loads values on miss via a callback and coalesces concurrent loads
// for the same key using singleflight. Failed loads are never stored.
// Keys are converted to strings via keyToString for the LRU and singleflight group.
type LoaderCache[K comparable, V any] struct {
	entries     store[V]
	group       singleflight.Group
	keyToString func(K) string
}

// NewLoaderCache creates a size-bounded loader cache without expiry.
func NewLoaderCache[K comparable, V any](maxEntries int, keyToString func(K) string) (*LoaderCache[K, V], error) {
	return NewLoaderCacheWithOptions[K, V](Options{MaxEntries: maxEntries}, keyToString)
}

// NewLoaderCacheWithOptions creates a loader cache, using an expiring LRU when opts.TTL is set.
func NewLoaderCacheWithOptions[K comparable, V any](opts Options, keyToString func(K) string) (*LoaderCache[K, V], error) {
	if opts.MaxEntries <= 0 {
		return nil, ErrInvalidSize
	}

	var entries store[V]

	if opts.TTL > 0 {
		entries = expirable.NewLRU[string, V](opts.MaxEntries, nil, opts.TTL)
	} else {
		lruCache, err := lru.New[string, V](opts.MaxEntries)
		if err != nil {
			return nil, err
		}

		entries = lruCache
	}

	return &LoaderCache[K, V]{
		entries:     entries,
		keyToString: keyToString,
	}, nil
}

// Get returns the value for key, loading it via load on cache miss.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get but also reports whether the value came from the cache.
// Callers record hit/miss metrics from the flag so the cache stays metrics-free.
func (c *LoaderCache[K, V]) GetWithStats(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, bool, error) {
	keyStr := c.keyToString(key)
	if v, ok := c.entries.Get(keyStr); ok {
		return v, true, nil
	}

	val, err, _ := c.group.Do(keyStr, func() (any, error) {
		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		c.entries.Add(keyStr, loaded)

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, false, err
	}

	return val.(V), false, nil
}

// Put stores value under key, replacing any cached value.
func (c *LoaderCache[K, V]) Put(key K, value V) {
	c.entries.Add(c.keyToString(key), value)
}

// Invalidate removes the entry for key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.entries.Remove(c.keyToString(key))
}

// InvalidateAll removes all entries.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.entries.Purge()
}

// Len returns the number of entries in the cache.
func (c *LoaderCache[K, V]) Len() int {
	return c.entries.Len()
}
