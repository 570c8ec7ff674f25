package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/domain/tx"
	"txflow/internal/errs"
	"txflow/internal/ports"
	"txflow/internal/usecase/txengine"
)

type ImportInput struct {
	BatchID string       `toml:"batch_id" yaml:"batch_id"`
	Atomic  bool         `toml:"atomic" yaml:"atomic"`
	Entries []EntryInput `toml:"entries" yaml:"entries"`
}

type RejectedEntry struct {
	Index     int
	Reference string
	Reason    string
}

type ImportResult struct {
	BatchID  string
	Accepted []ports.JournalEntry
	Rejected []RejectedEntry
	// RolledBack is set when an atomic import had rejections and nothing was kept.
	RolledBack bool
}

const (
	auditImportStarted  = "import started"
	auditImportFinished = "import finished"
)

// Import stores a batch of entries in one transaction. The "import started"
// audit row is written in its own transaction and survives a rollback of the
// batch. Each entry runs in a nested scope, so a rejected entry only undoes
// itself unless input.Atomic is set.
func (s *Service) Import(ctx context.Context, input ImportInput) (ImportResult, error) {
	if err := s.ready(ctx); err != nil {
		return ImportResult{}, err
	}
	if len(input.Entries) == 0 {
		return ImportResult{}, errors.New("import has no entries")
	}

	batchID := strings.TrimSpace(input.BatchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "journal.import"),
		slog.String("batch_id", batchID),
	)

	result := ImportResult{BatchID: batchID}
	outer := tx.DefaultDefinition().WithName("journal.import")
	err := s.uow.Execute(logCtx, outer, func(txCtx context.Context) error {
		result.Accepted = nil
		result.Rejected = nil

		if err := s.appendAuditIsolated(txCtx, batchID, auditImportStarted,
			fmt.Sprintf("%d entries, atomic=%t", len(input.Entries), input.Atomic)); err != nil {
			return err
		}
		s.logOnCommit(txCtx, &result)

		for i, in := range input.Entries {
			created, err := s.importEntry(txCtx, batchID, in)
			if err == nil {
				result.Accepted = append(result.Accepted, created)
				continue
			}
			if !isRejection(err) {
				return errs.Wrapf(err, "import entry %d", i)
			}
			logging.Info(txCtx, "journal entry rejected",
				slog.Int("index", i),
				slog.String("reference", in.Reference),
				slog.Any("err", errs.Loggable(err)),
			)
			result.Rejected = append(result.Rejected, RejectedEntry{
				Index:     i,
				Reference: strings.TrimSpace(in.Reference),
				Reason:    err.Error(),
			})
		}

		if err := s.repo.AppendAudit(txCtx, ports.JournalAuditCreate{
			BatchID:   batchID,
			Action:    auditImportFinished,
			Detail:    fmt.Sprintf("accepted=%d rejected=%d", len(result.Accepted), len(result.Rejected)),
			CreatedAt: s.nowUTCString(),
		}); err != nil {
			return err
		}
		if err := s.setCacheInTx(txCtx, cacheLastImportKey, batchID); err != nil {
			return err
		}

		if input.Atomic && len(result.Rejected) > 0 {
			st, ok := txengine.CurrentStatus(txCtx)
			if !ok {
				return errors.New("atomic import requires a transaction status")
			}
			st.SetRollbackOnly()
			result.RolledBack = true
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	if result.RolledBack {
		result.Accepted = nil
	}
	return result, nil
}

// appendAuditIsolated commits the audit row independently of the caller's transaction.
func (s *Service) appendAuditIsolated(ctx context.Context, batchID string, action string, detail string) error {
	def := tx.DefaultDefinition().
		WithPropagation(tx.PropagationRequiresNew).
		WithName("journal.audit")
	return s.uow.Execute(ctx, def, func(txCtx context.Context) error {
		return s.repo.AppendAudit(txCtx, ports.JournalAuditCreate{
			BatchID:   batchID,
			Action:    action,
			Detail:    detail,
			CreatedAt: s.nowUTCString(),
		})
	})
}

func (s *Service) importEntry(ctx context.Context, batchID string, in EntryInput) (ports.JournalEntry, error) {
	def := tx.DefaultDefinition().
		WithPropagation(tx.PropagationNested).
		WithName("journal.import.entry")
	return txengine.ExecuteWithResult(ctx, s.uow, def, func(txCtx context.Context) (ports.JournalEntry, error) {
		entry, err := normalizeEntry(in)
		if err != nil {
			return ports.JournalEntry{}, err
		}
		return s.repo.CreateEntry(txCtx, ports.JournalEntryCreate{
			BatchID:   batchID,
			Account:   entry.Account,
			Reference: entry.Reference,
			Amount:    entry.Amount,
			Memo:      entry.Memo,
			CreatedAt: s.nowUTCString(),
		})
	})
}

// logOnCommit reports the batch once the outer transaction has committed.
// Without active synchronization the report is skipped.
func (s *Service) logOnCommit(ctx context.Context, result *ImportResult) {
	report := &tx.SynchronizationFuncs{
		OnAfterCommit: func(ctx context.Context) error {
			logging.Info(ctx, "journal import committed",
				slog.Int("accepted", len(result.Accepted)),
				slog.Int("rejected", len(result.Rejected)),
			)
			return nil
		},
		OnAfterCompletion: func(ctx context.Context, status tx.CompletionStatus) error {
			if status != tx.CompletionCommitted {
				logging.Warn(ctx, "journal import not committed", slog.String("completion", status.String()))
			}
			return nil
		},
	}
	if err := txengine.RegisterSynchronization(ctx, report); err != nil {
		logging.Debug(ctx, "import commit report skipped", slog.Any("err", errs.Loggable(err)))
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrInvalidEntry) || errors.Is(err, ports.ErrDuplicateReference)
}
