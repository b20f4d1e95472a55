package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jswensen/logsync/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-table retention statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	retention := store.NewRetention(st, nil)
	stats, err := retention.Stats(cfg.Retention)
	if err != nil {
		return err
	}

	fmt.Printf("Database: %s (%s)\n", cfg.General.DBPath, formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Cutoff:   %s (%d days)\n\n", stats.Cutoff.Format("2006-01-02"), cfg.Retention.Days)
	fmt.Printf("%-22s %10s %10s %12s %12s %10s\n", "TABLE", "TOTAL", "ELIGIBLE", "OLDEST", "NEWEST", "SIZE")

	tables := make([]string, 0, len(stats.Tables))
	for t := range stats.Tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, name := range tables {
		ts := stats.Tables[name]
		oldest, newest := "-", "-"
		if !ts.Oldest.IsZero() {
			oldest = ts.Oldest.Format("2006-01-02")
		}
		if !ts.Newest.IsZero() {
			newest = ts.Newest.Format("2006-01-02")
		}
		fmt.Printf("%-22s %10d %10d %12s %12s %10s\n",
			name, ts.Total, ts.Eligible, oldest, newest, formatBytes(ts.SizeBytes))
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
