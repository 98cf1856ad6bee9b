package cache

import (
	"context"
	"sync"
	"time"

	"github.com/drallgood/catalog-summarizer/internal/logger"
)

// Cache defines the interface for a generic cache that stores values with a
// TTL. Backends may be remote, so every operation takes a context and can fail.
type Cache[K comparable, V any] interface {
	// Set stores a value with the specified TTL. A TTL of zero never expires.
	Set(ctx context.Context, key K, value V, ttl time.Duration) error
	// Get retrieves a value and reports whether it was found.
	Get(ctx context.Context, key K) (V, bool, error)
	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key K) error
	// Clear removes all values.
	Clear(ctx context.Context) error
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// memoryCache is an in-memory implementation of the Cache interface
type memoryCache[K comparable, V any] struct {
	items map[K]entry[V]
	mu    sync.RWMutex
	log   *logger.Logger
	now   func() time.Time
}

// MemoryOption configures a memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now func() time.Time
}

// WithClock replaces the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// NewMemoryCache creates a new in-memory cache with the provided logger
func NewMemoryCache[K comparable, V any](log *logger.Logger, opts ...MemoryOption) Cache[K, V] {
	o := memoryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.Get()
	}
	return &memoryCache[K, V]{
		items: make(map[K]entry[V]),
		log:   log,
		now:   o.now,
	}
}

func (c *memoryCache[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}
	return nil
}

func (c *memoryCache[K, V]) Get(_ context.Context, key K) (V, bool, error) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !found {
		return zero, false, nil
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false, nil
	}
	return item.value, true, nil
}

func (c *memoryCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memoryCache[K, V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V])
	c.log.Debug("Cache cleared")
	return nil
}

// WithTTL returns a wrapper that applies ttl to every Set, ignoring the
// caller's value.
func WithTTL[K comparable, V any](cache Cache[K, V], ttl time.Duration) Cache[K, V] {
	return &ttlWrapper[K, V]{cache: cache, ttl: ttl}
}

type ttlWrapper[K comparable, V any] struct {
	cache Cache[K, V]
	ttl   time.Duration
}

func (w *ttlWrapper[K, V]) Set(ctx context.Context, key K, value V, _ time.Duration) error {
	return w.cache.Set(ctx, key, value, w.ttl)
}

func (w *ttlWrapper[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return w.cache.Get(ctx, key)
}

func (w *ttlWrapper[K, V]) Delete(ctx context.Context, key K) error {
	return w.cache.Delete(ctx, key)
}

func (w *ttlWrapper[K, V]) Clear(ctx context.Context) error {
	return w.cache.Clear(ctx)
}
