package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"newsintel/internal/core"
	"newsintel/internal/persistence"
)

var _ persistence.CacheRepository = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewStore(tmpDir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	// Check that database file was created
	dbPath := filepath.Join(tmpDir, "extraction_cache.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should be created")
	}
}

func TestNewStore_InvalidDirectory(t *testing.T) {
	// Try to create store in a file (not directory)
	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "file.txt")
	_ = os.WriteFile(invalidPath, []byte("test"), 0644)

	_, err := NewStore(invalidPath)
	if err == nil {
		t.Error("Expected error when creating store in invalid directory")
	}
}

func TestGetSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		setup   func()
		key     string
		at      time.Time
		want    string
		wantErr error
	}{
		{
			name:    "miss",
			key:     "absent",
			at:      now,
			wantErr: core.ErrNotFound,
		},
		{
			name:  "hit before expiry",
			setup: func() { _ = store.Set(ctx, "k1", []byte(`{"mentioned":true}`), now.Add(24*time.Hour)) },
			key:   "k1",
			at:    now.Add(23 * time.Hour),
			want:  `{"mentioned":true}`,
		},
		{
			name:    "expired exactly at ttl",
			setup:   func() { _ = store.Set(ctx, "k2", []byte("v"), now.Add(time.Hour)) },
			key:     "k2",
			at:      now.Add(time.Hour),
			wantErr: core.ErrCacheExpired,
		},
		{
			name: "overwrite extends expiry",
			setup: func() {
				_ = store.Set(ctx, "k3", []byte("old"), now)
				_ = store.Set(ctx, "k3", []byte("new"), now.Add(time.Hour))
			},
			key:  "k3",
			at:   now,
			want: "new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			got, err := store.Get(ctx, tt.key, tt.at)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Get = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeleteExpiredAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.Set(ctx, "fresh", []byte("a"), now.Add(time.Hour))
	_ = store.Set(ctx, "stale", []byte("b"), now.Add(-time.Minute))

	stats, err := store.GetCacheStats(ctx, now)
	if err != nil {
		t.Fatalf("GetCacheStats failed: %v", err)
	}
	if stats.EntryCount != 2 || stats.ExpiredCount != 1 {
		t.Errorf("stats = %+v", stats)
	}

	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", n)
	}
	if _, err := store.Get(ctx, "fresh", now); err != nil {
		t.Errorf("fresh entry should survive: %v", err)
	}

	if err := store.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if _, err := store.Get(ctx, "fresh", now); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected cache cleared, got %v", err)
	}
}
