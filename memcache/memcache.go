// Package memcache implements a bounded, TTL-aware associative store with
// approximate LRU+frequency eviction over a clock-injected heap of cache
// entries, keyed on an opaque, typed artifact value rather than a raw
// byte slice.
package memcache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tachyon-beep/mnemosyne/errs"
	"github.com/tachyon-beep/mnemosyne/sizeest"
	"github.com/tachyon-beep/mnemosyne/utils/heap"
)

// AccessKind identifies the outcome an Observer is notified of.
type AccessKind int

const (
	Hit AccessKind = iota
	Miss
	MissExpired
)

// Observer is notified of every Get outcome. Implementations must not
// block; Cache invokes them while holding no lock.
type Observer func(key string, kind AccessKind)

type entry struct {
	key           string
	value         any
	size          int64
	insertionTime int64 // unix milliseconds
	ttl           time.Duration
	hits          int64
}

func (e *entry) expired(nowMillis int64) bool {
	return nowMillis-e.insertionTime >= e.ttl.Milliseconds()
}

// score implements the eviction rule:
// insertionTime + hits*1000 (millisecond units); lower scores evict first.
func (e *entry) score() int64 {
	return e.insertionTime + e.hits*1000
}

// KeyStats reports cumulative request/hit accounting for one key, surviving
// entry eviction (it lives for the cache's lifetime, independent of any
// particular entry).
type KeyStats struct {
	Hits     int64
	Misses   int64
	Requests int64
	HitRate  float64
}

// Stats is the snapshot returned by Cache.Stats.
type Stats struct {
	Entries   int
	Bytes     int64
	Evictions int64
	PerKey    map[string]KeyStats
}

// Cache is a bounded, TTL-aware cache with approximate LRU+frequency
// eviction. The zero value is not usable; construct with New.
type Cache struct {
	mu sync.Mutex

	clock clock.Clock

	maxBytes     int64
	currentBytes int64
	evictions    int64

	entries map[string]*entry
	byScore *heap.MinHeap[*entry]

	access map[string]*KeyStats
}

// New builds a Cache with the given byte budget, using the real wall clock.
func New(maxBytes int64) *Cache {
	return NewWithClock(maxBytes, clock.New())
}

// NewWithClock builds a Cache backed by an injected clock, letting tests
// control TTL expiry and eviction ordering deterministically (benbjohnson
// clock.Mock).
func NewWithClock(maxBytes int64, clk clock.Clock) *Cache {
	c := &Cache{
		clock:    clk,
		maxBytes: maxBytes,
		entries:  make(map[string]*entry),
		access:   make(map[string]*KeyStats),
	}
	c.byScore = heap.NewMinHeap(func(a, b *entry) bool {
		if a.score() != b.score() {
			return a.score() < b.score()
		}
		return a.key < b.key
	})
	return c
}

// Get returns the cached artifact for key. A miss (absent or expired entry)
// returns (nil, false) and notifies observer, if non-nil, of Miss or
// MissExpired. A hit increments the entry's hit counter and notifies Hit.
func (c *Cache) Get(key string, observer Observer) (any, bool) {
	c.mu.Lock()

	now := c.clock.Now().UnixMilli()
	e, ok := c.entries[key]
	if !ok {
		c.recordMiss(key)
		c.mu.Unlock()
		notify(observer, key, Miss)
		return nil, false
	}

	if e.expired(now) {
		c.deleteLocked(e)
		c.recordMiss(key)
		c.mu.Unlock()
		notify(observer, key, MissExpired)
		return nil, false
	}

	e.hits++
	c.byScore.Update(e)
	c.recordHit(key)
	value := e.value
	c.mu.Unlock()
	notify(observer, key, Hit)
	return value, true
}

func notify(observer Observer, key string, kind AccessKind) {
	if observer != nil {
		observer(key, kind)
	}
}

// Set inserts value under key with the given TTL, estimating its size with
// sizeest.Estimate and evicting lower-scored entries as needed to stay
// within maxBytes. It returns false (a *errs.CacheError) only when value
// alone cannot fit even after evicting everything else.
func (c *Cache) Set(key string, value any, ttl time.Duration) (bool, error) {
	size := sizeest.Estimate(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxBytes {
		return false, &errs.CacheError{Key: key, Reason: "artifact larger than cache capacity"}
	}

	if existing, ok := c.entries[key]; ok {
		c.deleteLocked(existing)
	}

	needed := c.currentBytes + size - c.maxBytes
	if needed > 0 {
		if err := c.evictLocked(needed); err != nil {
			return false, err
		}
	}

	now := c.clock.Now().UnixMilli()
	e := &entry{
		key:           key,
		value:         value,
		size:          size,
		insertionTime: now,
		ttl:           ttl,
		hits:          0,
	}
	c.entries[key] = e
	c.byScore.Push(e)
	c.currentBytes += size
	return true, nil
}

// InvalidatePattern removes every entry whose key contains substring
// (simple case-sensitive containment) and returns the count removed.
func (c *Cache) InvalidatePattern(substring string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*entry
	for _, e := range c.entries {
		if containsSubstring(e.key, substring) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.deleteLocked(e)
	}
	return len(toRemove)
}

func containsSubstring(s, substr string) bool {
	if substr == "" {
		return true
	}
	return indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

// Stats returns a snapshot of entry count, total bytes, and per-key
// hit/miss accounting.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	perKey := make(map[string]KeyStats, len(c.access))
	for k, s := range c.access {
		stat := *s
		stat.Requests = stat.Hits + stat.Misses
		if stat.Requests > 0 {
			stat.HitRate = float64(stat.Hits) / float64(stat.Requests)
		}
		perKey[k] = stat
	}

	return Stats{
		Entries:   len(c.entries),
		Bytes:     c.currentBytes,
		Evictions: c.evictions,
		PerKey:    perKey,
	}
}

// CurrentBytes reports the live currentMemoryUsage accounting value,
// exercised directly by the cache-accounting property test (§8 property 1).
func (c *Cache) CurrentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBytes
}

func (c *Cache) recordHit(key string) {
	s := c.statFor(key)
	s.Hits++
}

func (c *Cache) recordMiss(key string) {
	s := c.statFor(key)
	s.Misses++
}

func (c *Cache) statFor(key string) *KeyStats {
	s, ok := c.access[key]
	if !ok {
		s = &KeyStats{}
		c.access[key] = s
	}
	return s
}

func (c *Cache) deleteLocked(e *entry) {
	delete(c.entries, e.key)
	c.byScore.Remove(e)
	c.currentBytes -= e.size
}

// evictLocked frees at least sizeNeeded bytes, lowest-score first. It
// returns an error only if the heap empties before enough space is freed,
// which cannot happen for any single request that itself fit the
// size>maxBytes check in Set.
func (c *Cache) evictLocked(sizeNeeded int64) error {
	var freed int64
	for freed < sizeNeeded {
		e, ok := c.byScore.Pop()
		if !ok {
			return &errs.CacheError{Reason: "insufficient cache capacity to evict enough space"}
		}
		delete(c.entries, e.key)
		c.currentBytes -= e.size
		c.evictions++
		freed += e.size
	}
	return nil
}
