package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sybethiesant/flexerr/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "flexerr",
	Short: "Flexerr applies lifecycle rules to media libraries",
	Long: `Flexerr evaluates condition and velocity based rules against a Plex or
Jellyfin library, queues matched items behind a buffer window, and executes
deletions through Radarr and Sonarr once the buffer elapses.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Flexerr",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Flexerr v0.1.0")
	},
}

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yml)")
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(queueCmd)
}

func initConfig() {
	// Skip config loading for version command
	if len(os.Args) > 1 && os.Args[1] == "version" {
		return
	}

	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
