// Package memory provides a process-local response cache.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pario-ai/sendchat/pkg/models"
)

// Cache is an in-memory exact-match response cache. Entries live until Clear
// is called or the process exits.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*models.CompletionResponse
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*models.CompletionResponse)}
}

// Get retrieves a cached response.
func (c *Cache) Get(_ context.Context, key string) (*models.CompletionResponse, bool, error) {
	c.mu.RLock()
	resp, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return resp, true, nil
}

// Put stores a response in the cache.
func (c *Cache) Put(_ context.Context, key string, resp *models.CompletionResponse) error {
	c.mu.Lock()
	c.entries[key] = resp
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	return models.CacheStats{
		Entries: int64(c.Len()),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*models.CompletionResponse)
	c.mu.Unlock()
}
