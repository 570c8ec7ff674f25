package journal

import (
	"context"

	"txflow/internal/domain/tx"
	"txflow/internal/ports"
	"txflow/internal/usecase/txengine"
)

type RecordInput = EntryInput

// Record stores one entry and updates the last-entry cache key in the same
// transaction. It joins a transaction already active in ctx.
func (s *Service) Record(ctx context.Context, input RecordInput) (ports.JournalEntry, error) {
	if err := s.ready(ctx); err != nil {
		return ports.JournalEntry{}, err
	}
	entry, err := normalizeEntry(input)
	if err != nil {
		return ports.JournalEntry{}, err
	}

	def := tx.DefaultDefinition().WithName("journal.record")
	return txengine.ExecuteWithResult(ctx, s.uow, def, func(txCtx context.Context) (ports.JournalEntry, error) {
		created, err := s.repo.CreateEntry(txCtx, ports.JournalEntryCreate{
			Account:   entry.Account,
			Reference: entry.Reference,
			Amount:    entry.Amount,
			Memo:      entry.Memo,
			CreatedAt: s.nowUTCString(),
		})
		if err != nil {
			return ports.JournalEntry{}, err
		}
		if err := s.setCacheInTx(txCtx, cacheLastEntryKey, created.Reference); err != nil {
			return ports.JournalEntry{}, err
		}
		return created, nil
	})
}
