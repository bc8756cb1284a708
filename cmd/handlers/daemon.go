package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsintel/internal/pipeline"
)

// NewDaemonCmd creates the daemon command for the background schedule
func NewDaemonCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run triage, analysis, retriage, cleanup and aggregation on a schedule",
		Long: `Run every pipeline pass on its own interval until interrupted. Each job
runs once at startup. Intervals come from the daemon section of the config;
an interval of 0 disables that job.

Default schedule:
  triage       5m
  analysis     10m
  retriage     30m
  cleanup      1h
  aggregation  6h

Examples:
  newsintel daemon
  DAEMON_AGGREGATION_INTERVAL=0 newsintel daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, true, func(ctx context.Context, a *app) error {
				if seed {
					if err := seedDefaults(ctx, a); err != nil {
						return fmt.Errorf("failed to seed reference data: %w", err)
					}
				}
				a.log.Info("Press Ctrl+C to stop")
				return pipeline.NewDaemon(a.pipeline, pipeline.ScheduleFromSettings(a.cfg.Daemon)).Run(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "Seed dimensions, clubs and the fixture before starting")

	return cmd
}
