package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sybethiesant/flexerr/internal/database"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single evaluation pass and exit",
	Long: `Performs one full pass: stale queue cleanup, evaluation of every active
rule, and execution of due queue items. With --dry-run, matched items are
recorded as dry-run queue entries and nothing is executed.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "record matches without queueing or executing actions")
}

func runOnce(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer database.Close()

	result, err := app.scheduler.Run(context.Background(), runDryRun)
	if err != nil {
		return err
	}

	summary := result.Summary
	fmt.Printf("Evaluation pass complete (dry-run: %v)\n", summary.DryRun)
	fmt.Printf("  Duration:      %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	fmt.Printf("  Rules run:     %d (%d failed)\n", summary.RulesRun, summary.RulesFailed)
	fmt.Printf("  Matches:       %d\n", summary.TotalMatches)
	fmt.Printf("  Queued:        %d\n", summary.QueueInserts)
	fmt.Printf("  Redownloads:   %d\n", summary.RedownloadsRequested)
	fmt.Printf("  Stale cleaned: %d\n", result.StaleCleaned)
	if result.Queue != nil {
		fmt.Printf("  Queue executed: %d completed, %d cancelled, %d deferred, %d errored\n",
			result.Queue.Completed, result.Queue.Cancelled, result.Queue.Deferred, result.Queue.Errored)
	}
	return nil
}
