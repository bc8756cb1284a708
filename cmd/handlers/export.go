package handlers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"newsintel/internal/features"
)

// NewExportCmd creates the export command for feature rows
func NewExportCmd() *cobra.Command {
	var (
		roundID  string
		season   int
		entityID string
		format   string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export verdicts as flat feature rows",
		Long: `Export one row per verdict with the round's per-dimension snapshot values
flattened into columns, for downstream models.

Examples:
  newsintel export --season 2026 --format csv --output features.csv
  newsintel export --round <round-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := features.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				rows, err := features.NewExporter(a.db).Rows(ctx, features.Filter{
					RoundID:    roundID,
					SeasonYear: season,
					EntityID:   entityID,
				})
				if err != nil {
					return err
				}

				var w io.Writer = os.Stdout
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer file.Close()
					w = file
				}
				if err := features.Write(w, f, rows); err != nil {
					return err
				}
				if output != "" {
					fmt.Printf("💾 Wrote %d rows to %s\n", len(rows), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&roundID, "round", "", "Only this round")
	cmd.Flags().IntVar(&season, "season", 0, "Only this season year")
	cmd.Flags().StringVar(&entityID, "entity", "", "Only this entity")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}
