package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jswensen/logsync/internal/model"
	syncer "github.com/jswensen/logsync/internal/sync"
)

var (
	flagDryRun       bool
	flagMaxFiles     int
	flagSkipExisting bool
	flagIncremental  bool
	flagPreview      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [files...]",
	Short: "Sync session logs into the store",
	Long: `Sync discovers session log files and upserts them into the store.
With file arguments only those files are processed. With --incremental only
files changed since the last successful sync are processed.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Simulate the sync without writing")
	syncCmd.Flags().IntVar(&flagMaxFiles, "max-files", 0, "Cap the number of files processed (0 = unlimited)")
	syncCmd.Flags().BoolVar(&flagSkipExisting, "skip-existing", false, "Skip files whose session is already stored")
	syncCmd.Flags().BoolVarP(&flagIncremental, "incremental", "i", false, "Only process files changed since the last sync")
	syncCmd.Flags().BoolVar(&flagPreview, "preview", false, "Show what an incremental sync would process, then exit")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	// Incremental mode decides the file set from the checkpoint; it cannot
	// apply when the caller names the files.
	if flagIncremental && len(args) > 0 {
		return fmt.Errorf("--incremental cannot be combined with explicit file arguments")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	orch := syncer.New(st, cfg, nil)

	if flagPreview {
		return runPreview(orch)
	}

	if !flagQuiet {
		orch.OnProgress(func(p model.Progress) {
			if p.Status != model.SyncInProgress {
				return
			}
			if p.ProcessedFiles%50 == 0 || p.ProcessedFiles == p.TotalFiles {
				fmt.Fprintf(os.Stderr, "\r  Syncing [%d/%d] %.0f%%", p.ProcessedFiles, p.TotalFiles, p.ProgressPercent)
			}
		})
	}

	opts := syncer.Options{
		DryRun:       flagDryRun,
		MaxFiles:     flagMaxFiles,
		SkipExisting: flagSkipExisting || cfg.Sync.SkipExisting,
		Incremental:  flagIncremental,
	}

	var result *model.SyncResult
	if len(args) > 0 {
		result, err = orch.SyncFiles(args, opts)
	} else {
		result, err = orch.SyncAll(opts)
	}
	if err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Fprintln(os.Stderr)
	}
	printResult(result)

	if !result.Success() {
		return fmt.Errorf("sync finished with %d parse and %d insert errors",
			len(result.ParseErrors), len(result.InsertErrors))
	}
	return nil
}

func runPreview(orch *syncer.Orchestrator) error {
	preview, err := orch.PreviewIncrementalSync()
	if err != nil {
		return err
	}

	if preview.Watermark.IsZero() {
		fmt.Println("No prior sync; an incremental sync would run a full sync.")
	} else {
		fmt.Printf("Watermark: %s\n", preview.Watermark.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Discovered: %d files\n", preview.TotalFiles)
	fmt.Printf("New:        %d\n", len(preview.NewFiles))
	fmt.Printf("Updated:    %d\n", len(preview.UpdatedFiles))

	for _, p := range preview.NewFiles {
		fmt.Printf("  new      %s\n", p)
	}
	for _, p := range preview.UpdatedFiles {
		fmt.Printf("  updated  %s\n", p)
	}
	return nil
}

func printResult(r *model.SyncResult) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Printf("Sync %s%s\n", r.RunID, mode)
	fmt.Printf("  Files:      %d processed of %d discovered\n", r.FilesProcessed, r.FilesDiscovered)
	fmt.Printf("  Sessions:   %d inserted, %d duplicates skipped\n", r.SessionsInserted, r.DuplicatesSkipped)
	fmt.Printf("  Messages:   %d\n", r.MessagesProcessed)
	fmt.Printf("  Duration:   %s\n", r.Duration.Round(time.Millisecond))
	if len(r.ParseErrors) > 0 {
		fmt.Printf("  Parse errors (%d):\n", len(r.ParseErrors))
		for _, e := range r.ParseErrors {
			fmt.Printf("    %s\n", e.Error())
		}
	}
	if len(r.InsertErrors) > 0 {
		fmt.Printf("  Insert errors (%d):\n", len(r.InsertErrors))
		for _, e := range r.InsertErrors {
			fmt.Printf("    %s\n", e.Error())
		}
	}
}
