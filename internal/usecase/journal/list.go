package journal

import (
	"context"

	"txflow/internal/domain/tx"
	"txflow/internal/ports"
	"txflow/internal/usecase/txengine"
)

var readDefinition = tx.DefaultDefinition().
	WithPropagation(tx.PropagationSupports).
	WithReadOnly(true).
	WithName("journal.list")

// List reads entries inside the caller's transaction if there is one.
func (s *Service) List(ctx context.Context, filter ports.JournalEntryFilter) ([]ports.JournalEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return txengine.ExecuteWithResult(ctx, s.uow, readDefinition, func(txCtx context.Context) ([]ports.JournalEntry, error) {
		return s.repo.ListEntries(txCtx, filter)
	})
}

func (s *Service) ListAudit(ctx context.Context, batchID string) ([]ports.JournalAudit, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return txengine.ExecuteWithResult(ctx, s.uow, readDefinition, func(txCtx context.Context) ([]ports.JournalAudit, error) {
		return s.repo.ListAudit(txCtx, batchID)
	})
}
