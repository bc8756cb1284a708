package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"newsintel/internal/aggregation"
)

// NewAggregateCmd creates the aggregate command
func NewAggregateCmd() *cobra.Command {
	var (
		roundID   string
		entityIDs []string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Fold a round's events into snapshots, profiles and verdicts",
		Long: `Aggregate one round. Events are folded into weekly snapshots per dimension,
snapshots into rolling profiles, and profiles into one verdict per player.

Without --round the round containing the current time is used. Verdicts for
players with no events are only written once the round has closed, unless
--force is given.

Examples:
  newsintel aggregate
  newsintel aggregate --round <round-id> --force
  newsintel aggregate --entity <entity-id> --entity <entity-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.Aggregate(ctx, roundID, aggregation.RunOptions{
					EntityIDs: entityIDs,
					Force:     force,
				})
				if err != nil {
					return err
				}

				fmt.Printf("\n📊 Aggregation Summary: %s\n", res.RoundID)
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				fmt.Printf("Entities:   %d\n", res.Entities)
				fmt.Printf("Snapshots:  %d\n", res.Snapshots)
				fmt.Printf("Profiles:   %d\n", res.Profiles)
				fmt.Printf("Verdicts:   %d\n", res.Verdicts)
				fmt.Printf("Skipped:    %d\n", res.Skipped)
				printErrors(res.Errors)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&roundID, "round", "", "Round ID (default: current round)")
	cmd.Flags().StringSliceVar(&entityIDs, "entity", nil, "Limit to these entity IDs (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Write verdicts before the round closes")

	return cmd
}
