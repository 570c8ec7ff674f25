package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/spf13/cobra"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
	"txflow/internal/infrastructure/telemetry"
	"txflow/internal/ports"
	"txflow/internal/usecase/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Record, import and list journal entries",
}

var journalRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one journal entry",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := requireSchema(ctx, deps); err != nil {
			return err
		}

		account, _ := cmd.Flags().GetString("account")
		reference, _ := cmd.Flags().GetString("reference")
		amount, _ := cmd.Flags().GetInt64("amount")
		memo, _ := cmd.Flags().GetString("memo")

		created, err := deps.Journal.Record(ctx, journal.RecordInput{
			Account:   account,
			Reference: reference,
			Amount:    amount,
			Memo:      memo,
		})
		if err != nil {
			logging.Error(ctx, "record journal entry failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "record journal entry")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "recorded entry: #%d %s\n", created.EntryID, created.Reference); err != nil {
			return errs.Wrap(err, "write record output")
		}
		return printMetrics(cmd, deps.Telemetry)
	}),
}

var journalImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a batch of entries from a .toml or .yaml file",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := requireSchema(ctx, deps); err != nil {
			return err
		}

		input, err := journal.DecodeImportFile(cmd.Flags().Arg(0))
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("atomic") {
			input.Atomic, _ = cmd.Flags().GetBool("atomic")
		}
		if batchID, _ := cmd.Flags().GetString("batch"); strings.TrimSpace(batchID) != "" {
			input.BatchID = batchID
		}

		result, err := deps.Journal.Import(ctx, input)
		if err != nil {
			logging.Error(ctx, "import journal batch failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "import journal batch")
		}

		if _, err := fmt.Fprint(cmd.OutOrStdout(), renderImportResult(result)); err != nil {
			return errs.Wrap(err, "write import output")
		}
		return printMetrics(cmd, deps.Telemetry)
	}),
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journal entries",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := requireSchema(ctx, deps); err != nil {
			return err
		}

		account, _ := cmd.Flags().GetString("account")
		batchID, _ := cmd.Flags().GetString("batch")
		limit, _ := cmd.Flags().GetInt("limit")

		items, err := deps.Journal.List(ctx, ports.JournalEntryFilter{
			Account: account,
			BatchID: batchID,
			Limit:   limit,
		})
		if err != nil {
			logging.Error(ctx, "list journal entries failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list journal entries")
		}

		if _, err := fmt.Fprint(cmd.OutOrStdout(), renderEntries(items)); err != nil {
			return errs.Wrap(err, "write list output")
		}
		return nil
	}),
}

var journalAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit rows of import batches",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		if err := requireSchema(ctx, deps); err != nil {
			return err
		}

		batchID, _ := cmd.Flags().GetString("batch")
		items, err := deps.Journal.ListAudit(ctx, batchID)
		if err != nil {
			logging.Error(ctx, "list journal audit failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list journal audit")
		}

		if _, err := fmt.Fprint(cmd.OutOrStdout(), renderAudit(items)); err != nil {
			return errs.Wrap(err, "write audit output")
		}
		return nil
	}),
}

func requireSchema(ctx context.Context, deps appDeps) error {
	if !deps.App.SchemaReady(ctx) {
		return fmt.Errorf("journal schema not found in %s, run `txflow init-db` first", deps.App.Config.Database.DSN)
	}
	return nil
}

// printMetrics writes the Prometheus exposition of this run when --print-metrics is set.
func printMetrics(cmd *cobra.Command, tel *telemetry.Telemetry) error {
	enabled, _ := cmd.Flags().GetBool("print-metrics")
	if !enabled {
		return nil
	}
	if !tel.Enabled() {
		return fmt.Errorf("--print-metrics requires telemetry.enabled=true")
	}

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if _, err := fmt.Fprint(cmd.OutOrStdout(), rec.Body.String()); err != nil {
		return errs.Wrap(err, "write metrics output")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRecordCmd, journalImportCmd, journalListCmd, journalAuditCmd)

	journalCmd.PersistentFlags().Bool("print-metrics", false, "Print engine metrics after the command (needs telemetry.enabled)")

	journalRecordCmd.Flags().String("account", "", "Account name")
	journalRecordCmd.Flags().String("reference", "", "Unique entry reference")
	journalRecordCmd.Flags().Int64("amount", 0, "Amount in minor units (non-zero)")
	journalRecordCmd.Flags().String("memo", "", "Free-form memo")
	_ = journalRecordCmd.MarkFlagRequired("account")
	_ = journalRecordCmd.MarkFlagRequired("reference")
	_ = journalRecordCmd.MarkFlagRequired("amount")

	journalImportCmd.Flags().Bool("atomic", false, "Roll back the whole batch when any entry is rejected (overrides the file)")
	journalImportCmd.Flags().String("batch", "", "Batch id (overrides the file; generated when empty)")

	journalListCmd.Flags().String("account", "", "Filter by account")
	journalListCmd.Flags().String("batch", "", "Filter by import batch id")
	journalListCmd.Flags().Int("limit", 50, "Maximum number of entries")

	journalAuditCmd.Flags().String("batch", "", "Filter by import batch id")
}
