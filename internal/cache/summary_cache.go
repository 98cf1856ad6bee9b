package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

const (
	MinSummaryTTL     = 15 * time.Minute
	MaxSummaryTTL     = 30 * time.Minute
	DefaultSummaryTTL = 20 * time.Minute

	maxPoisonedKeys = 10000
)

// ClampTTL bounds ttl to the allowed summary cache lifetime.
func ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultSummaryTTL
	case ttl < MinSummaryTTL:
		return MinSummaryTTL
	case ttl > MaxSummaryTTL:
		return MaxSummaryTTL
	default:
		return ttl
	}
}

// SummaryCache is an advisory read cache of summaries keyed by book ID.
//
// It never returns data older than the last invalidation: backend errors are
// misses, a failed invalidation marks the key poisoned for one TTL, and a fill
// that raced with an invalidation is discarded.
type SummaryCache struct {
	backend  Cache[string, *models.Summary]
	ttl      time.Duration
	poisoned *expirable.LRU[string, struct{}]
	log      *logger.Logger

	// seq counts invalidations. invalidated holds the seq of the last
	// invalidation per key for one TTL; floor is the highest seq pruned since.
	mu          sync.Mutex
	seq         uint64
	floor       uint64
	invalidated map[string]invalidation
	lastSweep   time.Time
	now         func() time.Time
}

type invalidation struct {
	seq uint64
	at  time.Time
}

// NewSummaryCache wraps backend. A nil backend yields a cache that always misses.
func NewSummaryCache(backend Cache[string, *models.Summary], ttl time.Duration, log *logger.Logger) *SummaryCache {
	if log == nil {
		log = logger.Get()
	}
	ttl = ClampTTL(ttl)
	return &SummaryCache{
		backend:  backend,
		ttl:      ttl,
		poisoned: expirable.NewLRU[string, struct{}](maxPoisonedKeys, nil, ttl),
		log:      log.With(map[string]interface{}{"component": "summary_cache"}),
		invalidated: make(map[string]invalidation),
		now:         time.Now,
	}
}

// TTL returns the effective entry lifetime.
func (c *SummaryCache) TTL() time.Duration {
	return c.ttl
}

// Get returns a copy of the cached summary for bookID.
func (c *SummaryCache) Get(ctx context.Context, bookID string) (*models.Summary, bool) {
	if c == nil || c.backend == nil {
		return nil, false
	}
	if c.poisoned.Contains(bookID) {
		return nil, false
	}
	s, ok, err := c.backend.Get(ctx, bookID)
	if err != nil {
		c.log.Warn("Summary cache read failed, treating as miss", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
		})
		return nil, false
	}
	if !ok || s == nil {
		return nil, false
	}
	return s.Clone(), true
}

// Version returns a token to read before loading bookID from the store and
// hand back to Put.
func (c *SummaryCache) Version(bookID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// stale reports whether a fill with version lost a race with an invalidation.
// Callers hold mu.
func (c *SummaryCache) stale(bookID string, version uint64) bool {
	return c.floor > version || c.invalidated[bookID].seq > version
}

// sweep drops invalidations older than one TTL, at most once per TTL.
// Callers hold mu.
func (c *SummaryCache) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	c.lastSweep = now
	for key, inv := range c.invalidated {
		if now.Sub(inv.at) < c.ttl {
			continue
		}
		if inv.seq > c.floor {
			c.floor = inv.seq
		}
		delete(c.invalidated, key)
	}
}

// Put stores summary if bookID has not been invalidated since version was read.
// It reports whether the entry was written.
func (c *SummaryCache) Put(ctx context.Context, bookID string, summary *models.Summary, version uint64) bool {
	if c == nil || c.backend == nil || summary == nil {
		return false
	}
	if c.poisoned.Contains(bookID) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(bookID, version) {
		return false
	}
	if err := c.backend.Set(ctx, bookID, summary.Clone(), c.ttl); err != nil {
		c.log.Warn("Summary cache write failed", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

// Invalidate drops bookID. If the backend cannot delete the entry the key is
// poisoned so reads miss until the stale entry has expired.
func (c *SummaryCache) Invalidate(ctx context.Context, bookID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	now := c.now()
	c.seq++
	c.invalidated[bookID] = invalidation{seq: c.seq, at: now}
	c.sweep(now)
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, bookID); err != nil {
		c.poisoned.Add(bookID, struct{}{})
		c.log.Warn("Summary cache invalidation failed, key poisoned", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
			"ttl":     c.ttl.String(),
		})
	}
}
