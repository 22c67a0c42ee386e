package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sybethiesant/flexerr/internal/database"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Process due queue items and exit",
	Long: `Revalidates pending queue entries against the live library state, then
executes every item whose action time has passed. Items that are gone,
excluded, or back on a watchlist are cancelled instead of executed.`,
	RunE: runQueue,
}

func runQueue(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer database.Close()

	ctx := context.Background()

	cleaned, err := app.processor.CleanupStale(ctx)
	if err != nil {
		app.log.Error("stale queue cleanup failed", err)
	}

	result, err := app.processor.Process(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Queue pass complete\n")
	fmt.Printf("  Stale cleaned: %d\n", cleaned)
	fmt.Printf("  Processed:     %d (%d completed, %d cancelled, %d deferred, %d errored)\n",
		result.Processed, result.Completed, result.Cancelled, result.Deferred, result.Errored)
	return nil
}
