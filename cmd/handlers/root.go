package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"newsintel/internal/config"
	"newsintel/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newsintel",
		Short: "Turn scraped sports news into weekly per-player intelligence",
		Long: `newsintel admits scraped articles, resolves the players and teams they
mention, extracts structured events with an LLM, and folds those events into
weekly snapshots, rolling profiles and verdicts per round.

Core workflows:
  • Ingest: scraper submissions → deduplicated articles assigned to rounds
  • Analyze: triage (cheap name scan) → deep LLM extraction for flagged mentions
  • Aggregate: events → snapshots → profiles → verdicts for a round
  • Export: verdicted rounds → flat feature rows (CSV or JSON)

Examples:
  # Create the schema and reference data
  newsintel migrate up
  newsintel seed all

  # Submit scraped articles and process them
  newsintel ingest articles.jsonl --process

  # Run the background schedule and the API together
  newsintel serve --daemon`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.newsintel.yaml or $HOME/.newsintel.yaml)")

	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewSeedCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewTriageCmd())
	rootCmd.AddCommand(NewAnalyzeCmd())
	rootCmd.AddCommand(NewRetriageCmd())
	rootCmd.AddCommand(NewCleanupCmd())
	rootCmd.AddCommand(NewAggregateCmd())
	rootCmd.AddCommand(NewExportCmd())
	rootCmd.AddCommand(NewEntityCmd())
	rootCmd.AddCommand(NewResolveCmd())
	rootCmd.AddCommand(NewCacheCmd())
	rootCmd.AddCommand(NewDaemonCmd())
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if cfg.App.Debug {
		level = "debug"
	}
	logger.Configure(level, cfg.Logging.Format)

	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
}
