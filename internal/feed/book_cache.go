package feed

import (
	"sync"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// BookCache memoizes order-book snapshots for a short TTL to bound the
// request rate against the venue. It is read-mostly; each asset's entry has a
// single writer (the fetch goroutine for that asset).
type BookCache struct {
	ttl     time.Duration
	enabled bool
	mu      sync.RWMutex
	entries map[string]bookEntry
}

type bookEntry struct {
	snap      domain.OrderBookSnapshot
	expiresAt time.Time
}

// NewBookCache creates a BookCache. When enabled is false every Get misses, so
// callers always fetch fresh data; the latest snapshot per asset is still
// retained for Peek.
func NewBookCache(ttl time.Duration, enabled bool) *BookCache {
	return &BookCache{
		ttl:     ttl,
		enabled: enabled,
		entries: make(map[string]bookEntry),
	}
}

// Get returns the cached snapshot for the asset if it has not expired.
func (c *BookCache) Get(assetID string, now time.Time) (domain.OrderBookSnapshot, bool) {
	if !c.enabled {
		return domain.OrderBookSnapshot{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[assetID]
	if !ok || now.After(e.expiresAt) {
		return domain.OrderBookSnapshot{}, false
	}
	return e.snap, true
}

// Put replaces the cache entry for the snapshot's asset, stamping a new
// expiry. It stores even when the cache is disabled: Peek must keep serving
// the last known book for exit marks and the spread term.
func (c *BookCache) Put(snap domain.OrderBookSnapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snap.AssetID] = bookEntry{snap: snap, expiresAt: now.Add(c.ttl)}
}

// Peek returns the cached snapshot regardless of expiry. Exit evaluation uses
// it as a last-resort mark when a fresh fetch failed.
func (c *BookCache) Peek(assetID string) (domain.OrderBookSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[assetID]
	return e.snap, ok
}
