package handlers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"newsintel/internal/calendar"
)

// NewSeedCmd creates the seed command for reference data
func NewSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data: dimensions, clubs, rounds and players",
		Long: `Load the reference data the pipeline resolves and aggregates against.
Every subcommand is idempotent.

Examples:
  newsintel seed all
  newsintel seed players players.json`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Seed dimensions, clubs and the season fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				return seedDefaults(ctx, a)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "dimensions",
		Short: "Upsert the eight analytical dimensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				n, err := upsertDimensions(ctx, a.db)
				if err != nil {
					return err
				}
				fmt.Printf("📐 Dimensions upserted: %d\n", n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clubs",
		Short: "Register the 18 AFL clubs and their aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				return seedClubs(ctx, a)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rounds",
		Short: "Write the season fixture and mark it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				return seedRounds(ctx, a)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "players [file]",
		Short: "Register players from a JSON array (stdin when no file is given)",
		Long: `Register players from a JSON array of
  {"name": "...", "club": "...", "position": "...", "external_id": "...", "aliases": ["..."]}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open players file: %w", err)
				}
				defer f.Close()
				r = f
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				res, err := calendar.SeedPlayers(ctx, a.pipeline.Resolver(), a.pipeline.Domain(), r)
				if err != nil {
					return err
				}
				fmt.Printf("🏃 Players: %d (%d new), aliases written: %d\n", res.Entities, res.Created, res.Aliases)
				return nil
			})
		},
	})

	return cmd
}

// seedDefaults loads everything needed to run against an empty store.
func seedDefaults(ctx context.Context, a *app) error {
	n, err := upsertDimensions(ctx, a.db)
	if err != nil {
		return err
	}
	fmt.Printf("📐 Dimensions upserted: %d\n", n)
	if err := seedClubs(ctx, a); err != nil {
		return err
	}
	return seedRounds(ctx, a)
}

func seedClubs(ctx context.Context, a *app) error {
	res, err := calendar.SeedClubs(ctx, a.pipeline.Resolver(), a.pipeline.Domain(), calendar.AFLClubs)
	if err != nil {
		return err
	}
	fmt.Printf("🏉 Clubs: %d (%d new), aliases written: %d\n", res.Entities, res.Created, res.Aliases)
	return nil
}

func seedRounds(ctx context.Context, a *app) error {
	season, n, err := a.pipeline.Calendar().Seed(ctx, calendar.AFL2026, true)
	if err != nil {
		return err
	}
	fmt.Printf("📅 %s: %d rounds\n", season.Name, n)
	return nil
}

// withApp wires the application, runs fn and closes everything afterwards.
func withApp(ctx context.Context, requireLLM bool, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, requireLLM)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
