package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jswensen/logsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync checkpoint",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	cp, err := st.LastCheckpoint(store.DefaultSyncKey)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Println("No sync has run yet.")
		return nil
	}

	fmt.Printf("Status:    %s\n", cp.Status)
	if !cp.LastSyncTime.IsZero() {
		fmt.Printf("Last sync: %s\n", cp.LastSyncTime.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Files:     %d\n", cp.FilesProcessed)
	fmt.Printf("Sessions:  %d\n", cp.SessionsProcessed)
	if cp.ErrorMessage != "" {
		fmt.Printf("Error:     %s\n", cp.ErrorMessage)
	}

	count, err := st.SessionCount()
	if err != nil {
		return err
	}
	fmt.Printf("Stored:    %d sessions\n", count)

	schema := "legacy"
	if st.HasExtendedSchema() {
		schema = "extended"
	}
	fmt.Printf("Schema:    %s\n", schema)
	return nil
}
