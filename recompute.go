package mnemosyne

import (
	"context"
	"sync"
)

// recomputeFunc re-derives the artifact that was cached under one key,
// using whatever bundle(s) and analyzer produced it the first time.
type recomputeFunc func(ctx context.Context) (any, error)

// recomputeRegistry remembers, for every cache key an optimize call has
// populated, how to recompute it from scratch. Warming a prediction whose
// cache entry has expired or been evicted needs this: a CacheKey is a
// one-way digest (cachekey.Content/Query never retain their inputs), so
// the original ConversationBundle can't be recovered from the key alone.
// Bounded FIFO so a long-running process can't grow this without limit;
// an entry falling out of the window simply means that key can no longer
// be warmed cold, only refreshed while still present in MemoryCache.
type recomputeRegistry struct {
	mu         sync.Mutex
	maxEntries int
	order      []string
	fns        map[string]recomputeFunc
}

func newRecomputeRegistry(maxEntries int) *recomputeRegistry {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &recomputeRegistry{maxEntries: maxEntries, fns: make(map[string]recomputeFunc)}
}

func (r *recomputeRegistry) register(key string, fn recomputeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fns[key]; !exists {
		r.order = append(r.order, key)
	}
	r.fns[key] = fn

	for len(r.order) > r.maxEntries {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.fns, oldest)
	}
}

func (r *recomputeRegistry) get(key string) (recomputeFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.fns[key]
	return fn, ok
}
