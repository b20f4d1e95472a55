// Package cmd implements the logsync command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jswensen/logsync/internal/config"
	"github.com/jswensen/logsync/internal/store"
)

var (
	flagConfig  string
	flagLogsDir string
	flagDBPath  string
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "logsync",
	Short: "Sync JSONL session logs into a SQLite analytics store",
	Long:  "logsync incrementally ingests append-only JSONL session logs into a relational store for analytics.",
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default XDG config dir)")
	rootCmd.PersistentFlags().StringVarP(&flagLogsDir, "logs-dir", "d", "", "Session logs directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagLogsDir != "" {
		cfg.General.LogsDir = flagLogsDir
	}
	if flagDBPath != "" {
		cfg.General.DBPath = flagDBPath
	}
	return cfg, nil
}

// openStore opens the session database per config.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.General.DBPath, store.Options{
		ExtendedSchema: cfg.Sync.ExtendedSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.General.DBPath, err)
	}
	return st, nil
}
