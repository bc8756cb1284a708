package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "newsintel.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, "app:\n  domain: afl\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.Database.Driver)
	}
	if cfg.Cache.TTL.Articles != "24h" || cfg.Cache.TTL.Extractions != "24h" {
		t.Errorf("unexpected TTLs: %+v", cfg.Cache.TTL)
	}
	if cfg.Pipeline.RetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Pipeline.RetryAttempts)
	}
	if cfg.Pipeline.FuzzyThreshold != 0.8 {
		t.Errorf("expected fuzzy threshold 0.8, got %v", cfg.Pipeline.FuzzyThreshold)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("expected 15s read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.App.ConfigFile == "" {
		t.Error("expected config file path to be recorded")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			body:    "database:\n  driver: mongo\n",
			wantErr: "Unknown database driver",
		},
		{
			name:    "postgres without connection",
			body:    "database:\n  driver: postgres\n",
			wantErr: "requires a connection string",
		},
		{
			name:    "bad duration",
			body:    "pipeline:\n  request_timeout: soon\n",
			wantErr: "invalid duration for pipeline.request_timeout",
		},
		{
			name:    "bad threshold",
			body:    "pipeline:\n  fuzzy_threshold: 1.5\n",
			wantErr: "fuzzy_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			t.Cleanup(Reset)
			t.Setenv("DATABASE_URL", "")
			t.Setenv("NEWSINTEL_DATABASE_URL", "")

			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDatabaseURLFallback(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/newsintel?sslmode=disable")

	cfg, err := Load(writeConfig(t, "database:\n  driver: postgres\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !strings.HasPrefix(cfg.Database.ConnectionString, "postgres://") {
		t.Errorf("expected DATABASE_URL to populate connection string, got %q", cfg.Database.ConnectionString)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("expected fallback, got %v", got)
	}
	if got := Duration("90s", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
}
