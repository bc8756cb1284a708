package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"newsintel/internal/config"
	"newsintel/internal/core"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage the PostgreSQL schema.

Subcommands:
  up       Apply all pending migrations and upsert the dimension reference data
  status   Show migration status
  rollback Revert the last migration (use with caution!)

Examples:
  newsintel migrate up
  newsintel migrate status
  newsintel migrate rollback --force`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Long: `Apply all pending database migrations, then upsert the eight analytical
dimensions so aggregation has its reference data.

Each migration runs in a transaction and is recorded in schema_migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the last migration",
		Long: `Revert the last applied migration by running its down file. Migrations
without a down file cannot be rolled back.

⚠️  WARNING: The initial schema's down file drops every table and its data.
Use --force to skip the confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func runMigrateUp(ctx context.Context) error {
	log := logger.Get()
	log.Info("Starting database migration")

	db, err := getPostgres(config.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrationManager(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	n, err := upsertDimensions(ctx, db)
	if err != nil {
		return err
	}

	fmt.Println("✅ All migrations applied successfully")
	fmt.Printf("📐 Dimensions upserted: %d\n", n)
	return nil
}

// upsertDimensions writes the built-in dimension table.
func upsertDimensions(ctx context.Context, db persistence.Database) (int, error) {
	dims := core.DefaultDimensions()
	for _, d := range dims {
		if err := db.Dimensions().Upsert(ctx, d); err != nil {
			return 0, fmt.Errorf("failed to upsert dimension %s: %w", d.Code, err)
		}
	}
	return len(dims), nil
}

func runMigrateStatus(ctx context.Context) error {
	db, err := getPostgres(config.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := persistence.NewMigrationManager(db).Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	fmt.Println("📊 Migration Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-10s %-10s %s\n", "Version", "Status", "Description")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	appliedCount := 0
	pendingCount := 0

	for _, m := range status {
		statusStr := "pending"
		statusIcon := "⏳"
		if m.Applied {
			statusStr = "applied"
			statusIcon = "✅"
			appliedCount++
		} else {
			pendingCount++
		}

		line := fmt.Sprintf("%-10d %s %-8s %s", m.Version, statusIcon, statusStr, m.Description)
		if m.AppliedAt != nil {
			line += fmt.Sprintf(" (%s)", m.AppliedAt.Format("2006-01-02 15:04"))
		}
		if m.Modified {
			line += "  ⚠️  file changed since it was applied"
		}
		fmt.Println(line)
	}

	fmt.Println()
	fmt.Printf("Applied: %d | Pending: %d | Total: %d\n", appliedCount, pendingCount, len(status))

	if pendingCount > 0 {
		fmt.Println("\nRun 'newsintel migrate up' to apply pending migrations")
	}

	return nil
}

func runMigrateRollback(ctx context.Context, force bool) error {
	if !force {
		fmt.Println("⚠️  WARNING: Rolling back runs the migration's down file.")
		fmt.Println("Rolling back the initial schema drops every table.")
		fmt.Println()
		fmt.Print("Are you sure you want to proceed? (yes/no): ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if response != "yes" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	db, err := getPostgres(config.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrationManager(db).Rollback(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	fmt.Println("⚠️  Last migration rolled back")
	return nil
}
