package models

import "time"

// CacheEntry stores a memoized provider response. An entry is never
// returned after its expiry timestamp.
type CacheEntry struct {
	Content   string    `json:"content"`
	Usage     Usage     `json:"usage"`
	Cost      float64   `json:"cost"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Fingerprint string        `json:"fingerprint"`
	OpType      OperationType `json:"op_type"`
	CallerID    string        `json:"caller_id"`
}

// Expired reports whether the entry is past its expiry at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStats reports memo cache performance.
type CacheStats struct {
	Entries  int   `json:"entries"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Evicted  int64 `json:"evicted"`
	Expired  int64 `json:"expired"`
	Capacity int   `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
