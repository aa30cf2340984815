// File: internal/respcache/cache.go

// Package respcache implements the write-once model response cache.
package respcache

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

// Cache is an in-memory, concurrency-safe response cache. Entries are
// immutable: a second Put under the same key must carry the same value, and
// a conflicting Put is a consistency violation that aborts the run.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*schemas.ModelResponse
	logger  *zap.Logger
}

var _ schemas.ResponseCache = (*Cache)(nil)

func New(logger *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*schemas.ModelResponse),
		logger:  logger.Named("respcache"),
	}
}

// Entry pairs a cache key with its response for persistence.
type Entry struct {
	Key      string
	Response *schemas.ModelResponse
}

// Entries returns the cache contents sorted by key.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for key, resp := range c.entries {
		out = append(out, Entry{Key: key, Response: resp})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Get returns the cached response for key, if any. The returned value is
// shared; callers must not mutate it.
func (c *Cache) Get(key string) (*schemas.ModelResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	return resp, ok
}

// Put stores resp under key. Re-putting an identical value is a no-op;
// putting a different value for an existing key returns
// CacheConsistencyError.
func (c *Cache) Put(key string, resp *schemas.ModelResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		if existing.SameValue(resp) {
			return nil
		}
		c.logger.Error("conflicting cache write",
			zap.String("key", key),
			zap.String("existing_model", existing.ModelID),
			zap.String("incoming_model", resp.ModelID))
		return &schemas.CacheConsistencyError{Key: key}
	}
	// Copy so a caller holding the pointer cannot mutate the committed
	// entry afterwards.
	stored := *resp
	c.entries[key] = &stored
	return nil
}

// Exists reports whether key has an entry without touching its value.
func (c *Cache) Exists(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
