package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jswensen/logsync/internal/daemon"
	syncer "github.com/jswensen/logsync/internal/sync"
)

var (
	flagDaemonAddr     string
	flagDaemonInterval time.Duration
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon: watch the logs directory and serve status over HTTP/SSE",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&flagDaemonAddr, "addr", "127.0.0.1:8791", "HTTP listen address")
	daemonCmd.Flags().DurationVar(&flagDaemonInterval, "interval", 5*time.Minute, "Fallback incremental sync interval")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	orch := syncer.New(st, cfg, logger)
	svc := daemon.New(daemon.Config{
		LogsDir:  cfg.General.LogsDir,
		Addr:     flagDaemonAddr,
		Interval: flagDaemonInterval,
	}, orch, st, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon starting", "addr", flagDaemonAddr, "logs_dir", cfg.General.LogsDir)
	return svc.Run(ctx)
}
