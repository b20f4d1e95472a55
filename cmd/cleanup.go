package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jswensen/logsync/internal/store"
)

var (
	flagRetentionDays int
	flagCleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete rows older than the retention window",
	Long: `Cleanup sweeps aged rows in bounded batches, dependent tables first,
and reclaims storage afterwards. Use --dry-run to see what would be deleted.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&flagRetentionDays, "days", 0, "Retention window in days (overrides config)")
	cleanupCmd.Flags().BoolVar(&flagCleanupDryRun, "dry-run", false, "Report would-be deletions without mutating")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagRetentionDays > 0 {
		cfg.Retention.Days = flagRetentionDays
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	retention := store.NewRetention(st, nil)
	deleted, err := retention.Cleanup(cfg.Retention, flagCleanupDryRun)
	if err != nil {
		return err
	}

	verb := "Deleted"
	if flagCleanupDryRun {
		verb = "Would delete"
	}

	tables := make([]string, 0, len(deleted))
	for t := range deleted {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var total int64
	for _, t := range tables {
		fmt.Printf("%s %d rows from %s\n", verb, deleted[t], t)
		total += deleted[t]
	}
	fmt.Printf("%s %d rows total (retention %d days)\n", verb, total, cfg.Retention.Days)
	return nil
}
