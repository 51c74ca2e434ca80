package cache

import (
	"testing"
	"time"

	"github.com/fabula-ai/fabula/pkg/models"
)

func newTestCache(t *testing.T, capacity int, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(capacity, ttl, 0) // no background sweep in tests
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestFingerprintDeterministic(t *testing.T) {
	f1 := Fingerprint(models.OpChapter, "tpl-1", "quill-pro-1", "Outline of chapter three")
	f2 := Fingerprint(models.OpChapter, "tpl-1", "quill-pro-1", "  outline   of CHAPTER three ")
	f3 := Fingerprint(models.OpChapter, "tpl-1", "quill-flash-1", "Outline of chapter three")

	if f1 != f2 {
		t.Error("normalized params should produce the same fingerprint")
	}
	if f1 == f3 {
		t.Error("different model should produce a different fingerprint")
	}
}

func TestFingerprintDefaultTemplate(t *testing.T) {
	f1 := Fingerprint(models.OpGeneral, "", "m", "p")
	f2 := Fingerprint(models.OpGeneral, "default", "m", "p")
	if f1 != f2 {
		t.Error("empty template should equal the default template")
	}
}

func TestStoreAndLookup(t *testing.T) {
	c := newTestCache(t, 10, time.Hour)
	fp := Fingerprint(models.OpGeneral, "", "m1", "hello")

	c.Store(fp, models.CacheEntry{
		Content: "response",
		Usage:   models.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		Cost:    0.002,
		Model:   "m1",
	}, 0)

	entry, ok := c.Lookup(fp)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.Content != "response" || entry.Cost != 0.002 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.ExpiresAt.Before(entry.CreatedAt) {
		t.Error("expiry should be after creation")
	}

	if _, ok := c.Lookup("missing"); ok {
		t.Error("expected miss for unknown fingerprint")
	}
}

func TestLazyExpiry(t *testing.T) {
	c := newTestCache(t, 10, time.Hour)
	fp := "fp-expiring"
	c.Store(fp, models.CacheEntry{Content: "x"}, time.Minute)

	// Advance the clock past expiry.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, ok := c.Lookup(fp); ok {
		t.Fatal("expected miss for expired entry")
	}

	stats := c.Stats()
	if stats.Expired != 1 {
		t.Errorf("expected 1 expired, got %d", stats.Expired)
	}
	if stats.Entries != 0 {
		t.Errorf("expired entry should be removed, got %d entries", stats.Entries)
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c := newTestCache(t, 2, time.Hour)

	c.Store("a", models.CacheEntry{Content: "a"}, 0)
	c.Store("b", models.CacheEntry{Content: "b"}, 0)
	c.Lookup("a") // make "b" least recently used
	c.Store("c", models.CacheEntry{Content: "c"}, 0)

	if _, ok := c.Lookup("b"); ok {
		t.Error("expected least-recently-used entry to be evicted")
	}
	if _, ok := c.Lookup("a"); !ok {
		t.Error("recently used entry should survive")
	}
	if got := c.Stats().Evicted; got != 1 {
		t.Errorf("expected 1 eviction, got %d", got)
	}
}

func TestClearExpiredOnly(t *testing.T) {
	c := newTestCache(t, 10, time.Hour)
	c.Store("keep", models.CacheEntry{}, time.Hour)
	c.Store("drop", models.CacheEntry{}, time.Millisecond)

	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	c.Clear(true)

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("expected 1 surviving entry, got %d", stats.Entries)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := newTestCache(t, 10, time.Hour)
	c.Store("h", models.CacheEntry{}, 0)
	c.Lookup("h")
	c.Lookup("miss")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate() != 0.5 {
		t.Errorf("expected 0.5 hit rate, got %v", stats.HitRate())
	}
}
