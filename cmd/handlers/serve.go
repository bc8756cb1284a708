package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsintel/internal/pipeline"
	"newsintel/internal/server"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		withDaemon bool
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the newsintel HTTP API.

The server provides:
  • Article submission for scrapers (POST /api/articles)
  • Entity registry and mention resolution
  • Rounds, verdicts and feature exports
  • Health check and status endpoints

Write endpoints require "Authorization: Bearer $ADMIN_API_KEY" when the
ADMIN_API_KEY environment variable is set.

Examples:
  # Start server on default port 8080
  newsintel serve

  # Start on a custom port and run the background schedule in-process
  newsintel serve --port 3000 --daemon

  # In-memory database: load reference data first
  newsintel serve --seed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host, withDaemon, seed)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	cmd.Flags().BoolVar(&withDaemon, "daemon", false, "Run the background pipeline schedule alongside the server")
	cmd.Flags().BoolVar(&seed, "seed", false, "Seed dimensions, clubs and the fixture before starting")

	return cmd
}

func runServe(ctx context.Context, port int, host string, withDaemon, seed bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, withDaemon, func(ctx context.Context, a *app) error {
		log := a.log

		if err := a.db.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w\n\n"+
				"Make sure PostgreSQL is running and the connection string is correct.\n"+
				"Run 'newsintel migrate up' to initialize the database schema.", err)
		}
		if seed {
			if err := seedDefaults(ctx, a); err != nil {
				return fmt.Errorf("failed to seed reference data: %w", err)
			}
		}

		serverCfg := a.cfg.Server
		if port != 0 {
			serverCfg.Port = port
		}
		if host != "" {
			serverCfg.Host = host
		}

		srv := server.New(a.pipeline, serverCfg, server.WithAdminKey(os.Getenv("ADMIN_API_KEY")))

		daemonDone := make(chan error, 1)
		if withDaemon {
			d := pipeline.NewDaemon(a.pipeline, pipeline.ScheduleFromSettings(a.cfg.Daemon))
			go func() { daemonDone <- d.Run(ctx) }()
		} else {
			close(daemonDone)
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
			log.Info("Press Ctrl+C to stop")
			serverErrors <- srv.Start()
		}()

		var runErr error
		select {
		case err := <-serverErrors:
			if err != nil {
				runErr = fmt.Errorf("server error: %w", err)
			}
			stop()

		case <-ctx.Done():
			log.Info("Server shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("Server shutdown failed, forcing close", "error", err)
				runErr = fmt.Errorf("server shutdown failed: %w", err)
			}
		}

		if err := <-daemonDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Daemon stopped with error", "error", err)
		}
		if runErr == nil {
			log.Info("Server stopped successfully")
		}
		return runErr
	})
}
