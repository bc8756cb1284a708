// Package store is a file-backed SQLite cache for LLM extraction responses.
// It lets repeated runs skip paid model calls even when the main database is
// the in-memory backend.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"newsintel/internal/core"
)

// Store represents the SQLite-based caching store
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "extraction_cache.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes serialize on the file lock anyway.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS extraction_cache (
			cache_key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_cache_expires_at ON extraction_cache (expires_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a cached value. Misses return core.ErrNotFound and entries at
// or past their expiry core.ErrCacheExpired.
func (s *Store) Get(ctx context.Context, key string, now time.Time) ([]byte, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM extraction_cache WHERE cache_key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if now.UnixNano() >= expiresAt {
		return nil, core.ErrCacheExpired
	}
	return value, nil
}

// Set stores value under key until expiresAt
func (s *Store) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO extraction_cache (cache_key, value, expires_at, created_at)
	VALUES (?, ?, ?, ?)`,
		key, value, expiresAt.UnixNano(), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// DeleteExpired removes entries past their expiry
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extraction_cache WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CacheStats represents cache statistics
type CacheStats struct {
	EntryCount   int
	ExpiredCount int
	CacheSize    int64
	LastUpdated  time.Time
}

// GetCacheStats returns statistics about the cache
func (s *Store) GetCacheStats(ctx context.Context, now time.Time) (*CacheStats, error) {
	stats := &CacheStats{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_cache`).Scan(&stats.EntryCount); err != nil {
		return nil, fmt.Errorf("failed to get count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extraction_cache WHERE expires_at <= ?`, now.UnixNano(),
	).Scan(&stats.ExpiredCount); err != nil {
		return nil, fmt.Errorf("failed to get expired count: %w", err)
	}

	// Get cache size (file size)
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.CacheSize = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

// ClearCache removes all cached data
func (s *Store) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM extraction_cache`); err != nil {
		return fmt.Errorf("failed to clear extraction_cache table: %w", err)
	}

	// Vacuum to reclaim space
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}
