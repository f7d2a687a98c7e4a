// Package sqlite provides a response cache persisted in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/sendchat/pkg/models"
)

// Cache is an exact-match response cache backed by SQLite. A zero TTL keeps
// entries until they are cleared explicitly. Hit and miss counters are stored
// in the database, so they add up across processes sharing the file.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS completion_cache (
	cache_key TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	response BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL
);
`

const createStatsTable = `
CREATE TABLE IF NOT EXISTS cache_stats (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO cache_stats (name, value) VALUES ('hits', 0), ('misses', 0);
`

const (
	statHits   = "hits"
	statMisses = "misses"
)

// New creates a Cache with the given database path and TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	// One connection keeps the counter updates from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	if _, err := db.Exec(createStatsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache stats: %w", err)
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Get retrieves a cached response. Expired entries are reported as misses.
func (c *Cache) Get(ctx context.Context, key string) (*models.CompletionResponse, bool, error) {
	var data []byte
	var createdAt, ttlMs int64

	err := c.db.QueryRowContext(ctx,
		`SELECT response, created_at, ttl_ms FROM completion_cache WHERE cache_key = ?`,
		key,
	).Scan(&data, &createdAt, &ttlMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, c.count(ctx, statMisses)
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if ttlMs > 0 && c.now().UnixMilli()-createdAt > ttlMs {
		return nil, false, c.count(ctx, statMisses)
	}

	var resp models.CompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}

	if err := c.count(ctx, statHits); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *Cache) count(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE cache_stats SET value = value + 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	return nil
}

// Put stores a response in the cache.
func (c *Cache) Put(ctx context.Context, key string, resp *models.CompletionResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	var model string
	if resp != nil {
		model = resp.Model
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO completion_cache (cache_key, model, response, created_at, ttl_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		key, model, data, c.now().UnixMilli(), c.ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns the entry count and the lifetime hit and miss counters.
func (c *Cache) Stats() (models.CacheStats, error) {
	var stats models.CacheStats
	err := c.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM completion_cache),
			(SELECT value FROM cache_stats WHERE name = 'hits'),
			(SELECT value FROM cache_stats WHERE name = 'misses')`,
	).Scan(&stats.Entries, &stats.Hits, &stats.Misses)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.Exec(
			`DELETE FROM completion_cache WHERE ttl_ms > 0 AND ? - created_at > ttl_ms`,
			c.now().UnixMilli(),
		)
	} else {
		_, err = c.db.Exec(`DELETE FROM completion_cache`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
