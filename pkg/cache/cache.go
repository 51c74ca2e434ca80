// Package cache provides a content-addressed memo store for provider
// responses. Entries are keyed by a deterministic fingerprint, evicted
// least-recently-used at capacity, and expire after a TTL.
package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fabula-ai/fabula/pkg/models"
)

// excerptLimit bounds the normalized parameter excerpt hashed into a
// fingerprint so oversized prompts fingerprint cheaply.
const excerptLimit = 256

// Fingerprint computes the deterministic cache key for an operation.
// templateID defaults to "default" when empty.
func Fingerprint(opType models.OperationType, templateID, model, params string) string {
	if templateID == "" {
		templateID = "default"
	}
	h := sha256.New()
	h.Write([]byte(string(opType)))
	h.Write([]byte{0})
	h.Write([]byte(templateID))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(normalizeExcerpt(params)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// normalizeExcerpt lowercases, collapses whitespace, and truncates the
// prompt-relevant parameters.
func normalizeExcerpt(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if len(s) > excerptLimit {
		s = s[:excerptLimit]
	}
	return s
}

// Cache is an in-memory LRU memo store with TTL expiry. Lookups treat
// expired entries as absent and remove them immediately; a periodic
// sweep purges expired entries proactively. Cache never fails: the only
// outcome besides a hit is "absent".
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, models.CacheEntry]
	ttl time.Duration
	cap int

	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
	expired atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New creates a Cache with the given capacity, default TTL, and sweep
// interval, and starts the background sweep.
func New(capacity int, ttl, sweepInterval time.Duration) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	l, err := lru.New[string, models.CacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	c := &Cache{
		lru:  l,
		ttl:  ttl,
		cap:  capacity,
		done: make(chan struct{}),
		now:  time.Now,
	}

	if sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(sweepInterval)
	}
	return c, nil
}

// Lookup returns the entry for a fingerprint, or false if absent or
// expired. Expired entries are removed on the spot.
func (c *Cache) Lookup(fingerprint string) (models.CacheEntry, bool) {
	c.mu.Lock()
	entry, ok := c.lru.Get(fingerprint)
	if ok && entry.Expired(c.now()) {
		c.lru.Remove(fingerprint)
		c.expired.Add(1)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}
	c.hits.Add(1)
	return entry, true
}

// Store inserts a provider response under a fingerprint. When the store
// is at capacity the least-recently-accessed entry is evicted first.
// A zero ttl uses the cache default.
func (c *Cache) Store(fingerprint string, entry models.CacheEntry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	entry.Fingerprint = fingerprint
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	c.mu.Lock()
	if c.lru.Len() >= c.cap && !c.lru.Contains(fingerprint) {
		c.evicted.Add(1)
	}
	c.lru.Add(fingerprint, entry)
	c.mu.Unlock()
}

// Stats returns cache performance counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	entries := c.lru.Len()
	c.mu.Unlock()

	return models.CacheStats{
		Entries:  entries,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Evicted:  c.evicted.Load(),
		Expired:  c.expired.Load(),
		Capacity: c.cap,
	}
}

// Clear removes entries. If expiredOnly is true, only expired entries
// are removed.
func (c *Cache) Clear(expiredOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !expiredOnly {
		c.lru.Purge()
		return
	}
	c.sweepLocked()
}

// Close stops the background sweep.
func (c *Cache) Close() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked()
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for _, key := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(key); ok && entry.Expired(now) {
			c.lru.Remove(key)
			c.expired.Add(1)
		}
	}
}
