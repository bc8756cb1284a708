package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"newsintel/internal/pipeline"
)

// NewTriageCmd creates the triage command
func NewTriageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triage",
		Short: "Scan pending articles for known entity names",
		Long: `Run one triage pass over articles awaiting triage. Triage is a cheap name
scan against the entity registry; mentions crossing the threshold are flagged
for deep extraction. No model calls are made.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.RunTriage(ctx)
				if err != nil {
					return err
				}
				printBatch("🔎 Triage", res)
				return nil
			})
		},
	}
}

// NewAnalyzeCmd creates the analyze command
func NewAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run deep extraction on flagged mentions",
		Long: `Run one analysis pass: every triaged article with flagged mentions is sent
to the configured model and the extracted events are stored. Responses are
cached by content hash, so rerunning never pays for the same prompt twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.RunAnalysis(ctx)
				if err != nil {
					return err
				}
				printBatch("🧠 Analysis", res)
				return nil
			})
		},
	}
}

// NewRetriageCmd creates the retriage command
func NewRetriageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retriage",
		Short: "Retry unresolved mentions against the current registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.Retriage(ctx)
				if err != nil {
					return err
				}
				fmt.Println("\n♻️  Retriage Summary")
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				fmt.Printf("Checked:   %d\n", res.Checked)
				fmt.Printf("Resolved:  %d\n", res.Resolved)
				fmt.Printf("Flagged:   %d\n", res.Flagged)
				printErrors(res.Errors)
				return nil
			})
		},
	}
}

// NewCleanupCmd creates the cleanup command
func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Evict expired articles and extraction cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("🧹 Evicted %d articles and %d cache entries\n", res.Articles, res.CacheEntries)
				return nil
			})
		},
	}
}

func printBatch(title string, res *pipeline.BatchResult) {
	fmt.Printf("\n%s Summary\n", title)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Articles:   %d\n", res.Articles)
	fmt.Printf("Succeeded:  %d\n", res.Succeeded)
	fmt.Printf("Failed:     %d\n", res.Failed)
	fmt.Printf("Abandoned:  %d\n", res.Abandoned)
	fmt.Printf("Duration:   %s\n", res.Duration)
	printErrors(res.Errors)
}

// printErrors lists up to five errors and counts the rest.
func printErrors(errs []error) {
	const shown = 5
	if len(errs) == 0 {
		return
	}
	fmt.Println("\n⚠️  Errors:")
	for i, err := range errs {
		if i == shown {
			fmt.Printf("  … and %d more\n", len(errs)-shown)
			break
		}
		fmt.Printf("  • %v\n", err)
	}
}
