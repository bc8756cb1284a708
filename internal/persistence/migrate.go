package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"newsintel/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationLockID keys the advisory lock held while the schema changes, so
// two processes starting together apply each migration once.
const migrationLockID = 727_001

// Migration is one numbered schema change read from NNN_description.sql, with
// an optional NNN_description.down.sql companion.
type Migration struct {
	Version     int
	Description string
	SQL         string
	DownSQL     string
	Checksum    string // sha256 of SQL
}

// MigrationStatus reports one migration against the schema_migrations table.
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	AppliedAt   *time.Time
	Modified    bool // The file changed after it was applied
}

type appliedMigration struct {
	version   int
	checksum  string
	appliedAt time.Time
}

// MigrationManager applies the embedded schema to a Postgres database.
type MigrationManager struct {
	db         *PostgresDB
	migrations []Migration
	loadErr    error
	log        *slog.Logger
}

// NewMigrationManager creates a migration manager over the embedded migrations.
func NewMigrationManager(db *PostgresDB) *MigrationManager {
	sub, err := fs.Sub(migrationFiles, "migrations")
	m := &MigrationManager{db: db, log: logger.Get()}
	if err != nil {
		m.loadErr = err
		return m
	}
	m.migrations, m.loadErr = parseMigrations(sub)
	return m
}

// parseMigrations reads every NNN_description.sql file at the root of fsys,
// ordered by version. Duplicate versions are an error.
func parseMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" || strings.HasSuffix(name, ".down.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: want NNN_description.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", name, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		up, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		down, err := fs.ReadFile(fsys, strings.TrimSuffix(name, ".sql")+".down.sql")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read down file for %s: %w", name, err)
		}

		sum := sha256.Sum256(up)
		out = append(out, Migration{
			Version:     version,
			Description: strings.ReplaceAll(rest, "_", " "),
			SQL:         string(up),
			DownSQL:     string(down),
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies every pending migration in version order, each in its own
// transaction, while holding the migration advisory lock.
func (m *MigrationManager) Migrate(ctx context.Context) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn)
		if err != nil {
			return err
		}

		pending := 0
		for _, mig := range m.migrations {
			if prev, ok := applied[mig.Version]; ok {
				if prev.checksum != "" && prev.checksum != mig.Checksum {
					m.log.Warn("Applied migration was modified", "version", mig.Version, "description", mig.Description)
				}
				continue
			}
			pending++
			if err := m.apply(ctx, conn, mig); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
			}
		}

		if pending == 0 {
			m.log.Info("Schema is up to date", "version", m.latest())
		} else {
			m.log.Info("Migrations applied", "count", pending, "version", m.latest())
		}
		return nil
	})
}

// Status lists every embedded migration with its applied state.
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	conn, err := m.db.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, conn)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(m.migrations))
	for _, mig := range m.migrations {
		st := MigrationStatus{Version: mig.Version, Description: mig.Description}
		if prev, ok := applied[mig.Version]; ok {
			at := prev.appliedAt
			st.Applied = true
			st.AppliedAt = &at
			st.Modified = prev.checksum != "" && prev.checksum != mig.Checksum
		}
		out = append(out, st)
	}
	return out, nil
}

// Rollback runs the down file of the latest applied migration and forgets it.
// A migration without a down file cannot be rolled back.
func (m *MigrationManager) Rollback(ctx context.Context) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn)
		if err != nil {
			return err
		}
		last := 0
		for v := range applied {
			if v > last {
				last = v
			}
		}
		if last == 0 {
			return fmt.Errorf("no migrations to roll back")
		}

		var target *Migration
		for i := range m.migrations {
			if m.migrations[i].Version == last {
				target = &m.migrations[i]
			}
		}
		if target == nil {
			return fmt.Errorf("migration %d is applied but not embedded in this binary", last)
		}
		if strings.TrimSpace(target.DownSQL) == "" {
			return fmt.Errorf("migration %d has no down file", last)
		}

		m.log.Warn("Rolling back migration", "version", last, "description", target.Description)
		return inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, target.DownSQL); err != nil {
				return fmt.Errorf("failed to execute down migration: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, last); err != nil {
				return fmt.Errorf("failed to remove migration record: %w", err)
			}
			return nil
		})
	})
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *MigrationManager) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.log.Warn("Failed to release migration lock", "error", err)
		}
	}()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

func (m *MigrationManager) applied(ctx context.Context, conn *sql.Conn) (map[int]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]appliedMigration)
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.version, &a.checksum, &a.appliedAt); err != nil {
			return nil, err
		}
		out[a.version] = a
	}
	return out, rows.Err()
}

func (m *MigrationManager) apply(ctx context.Context, conn *sql.Conn, mig Migration) error {
	m.log.Info("Applying migration", "version", mig.Version, "description", mig.Description)
	return inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, checksum) VALUES ($1, $2, $3)`,
			mig.Version, mig.Description, mig.Checksum)
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

func (m *MigrationManager) latest() int {
	if n := len(m.migrations); n > 0 {
		return m.migrations[n-1].Version
	}
	return 0
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
