package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sybethiesant/flexerr/internal/database"
	"github.com/sybethiesant/flexerr/internal/shutdown"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the scheduled evaluation loop",
	Long: `Starts the HTTP API and the cron-driven evaluation loop. Each scheduled
pass cleans up stale queue entries, evaluates every active rule, and
executes due queue items. The process runs until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	handler := shutdown.New(30 * time.Second)
	handler.Register(func(ctx context.Context) error {
		return database.Close()
	})
	handler.Register(func(ctx context.Context) error {
		app.scheduler.Stop()
		return nil
	})

	if err := app.scheduler.Start(app.cfg.Engine.CronSpec); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		app.log.WithFields(map[string]interface{}{
			"port": app.cfg.API.Port,
		}).Info("starting API server")
		errChan <- app.server.Run(app.cfg.API.Port)
	}()

	go func() {
		if err := <-errChan; err != nil {
			app.log.Error("API server terminated", err)
			handler.TriggerShutdown()
		}
	}()

	handler.Wait()
	return nil
}
