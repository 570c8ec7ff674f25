package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
	"txflow/internal/usecase/journalconsole"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Browse the journal in a terminal console",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := requireSchema(ctx, deps); err != nil {
			return err
		}

		account, _ := cmd.Flags().GetString("account")
		batchID, _ := cmd.Flags().GetString("batch")
		limit, _ := cmd.Flags().GetInt("limit")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		logFile, _ := cmd.Flags().GetString("log-file")

		logger, closeLog, err := consoleLogger(logFile)
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()
		ctx = logging.WithLogger(ctx, logger)

		model := journalconsole.NewJournalModel(ctx, deps.Journal, journalconsole.Options{
			Account:         account,
			BatchID:         batchID,
			Limit:           limit,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run journal console")
		}
		return nil
	}),
}

// consoleLogger keeps log output off the alt screen: records go to path, or
// nowhere when path is empty.
func consoleLogger(path string) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, errs.Wrapf(err, "create console log directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errs.Wrapf(err, "open console log %s", path)
	}
	return slog.New(slog.NewTextHandler(f, opts)), f.Close, nil
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().String("account", "", "Filter by account")
	consoleCmd.Flags().String("batch", "", "Filter by import batch id")
	consoleCmd.Flags().Int("limit", 50, "Maximum number of entries")
	consoleCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
	consoleCmd.Flags().String("log-file", "", "Write console logs to this file instead of discarding them")
}
