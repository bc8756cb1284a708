package persistence

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrations(t *testing.T) {
	m := NewMigrationManager(nil)
	if m.loadErr != nil {
		t.Fatalf("embedded migrations failed to parse: %v", m.loadErr)
	}
	if len(m.migrations) == 0 || m.migrations[0].Version != 1 {
		t.Fatalf("expected migration 1 first, got %+v", m.migrations)
	}
	first := m.migrations[0]
	if first.Description != "initial schema" {
		t.Errorf("description = %q", first.Description)
	}
	if !strings.Contains(first.SQL, "extraction_events") || first.DownSQL == "" {
		t.Error("initial schema should create extraction_events and carry a down file")
	}
}

func TestParseMigrations(t *testing.T) {
	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }

	tests := []struct {
		name     string
		fsys     fstest.MapFS
		versions []int
		wantErr  string
	}{
		{
			name: "ordered by version with optional down files",
			fsys: fstest.MapFS{
				"010_add_index.sql":           file("CREATE INDEX x ON t (c);"),
				"002_add_column.sql":          file("ALTER TABLE t ADD COLUMN c INT;"),
				"002_add_column.down.sql":     file("ALTER TABLE t DROP COLUMN c;"),
				"001_initial_schema.sql":      file("CREATE TABLE t (id INT);"),
				"001_initial_schema.down.sql": file("DROP TABLE t;"),
				"README.md":                   file("not a migration"),
			},
			versions: []int{1, 2, 10},
		},
		{
			name:    "missing description",
			fsys:    fstest.MapFS{"001.sql": file("SELECT 1;")},
			wantErr: "NNN_description",
		},
		{
			name:    "non-numeric version",
			fsys:    fstest.MapFS{"abc_schema.sql": file("SELECT 1;")},
			wantErr: "invalid version",
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"001_a.sql":  file("SELECT 1;"),
				"0001_b.sql": file("SELECT 2;"),
			},
			wantErr: "share version 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMigrations(tt.fsys)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMigrations: %v", err)
			}
			if len(got) != len(tt.versions) {
				t.Fatalf("got %d migrations, want %d", len(got), len(tt.versions))
			}
			for i, v := range tt.versions {
				if got[i].Version != v {
					t.Errorf("migration %d version = %d, want %d", i, got[i].Version, v)
				}
			}
			if got[0].DownSQL != "DROP TABLE t;" || got[2].DownSQL != "" {
				t.Error("down files not attached to their migrations")
			}
			if got[0].Checksum == got[1].Checksum || len(got[0].Checksum) != 64 {
				t.Errorf("unexpected checksums %q %q", got[0].Checksum, got[1].Checksum)
			}
		})
	}
}
