package txengine

import (
	"context"
	"fmt"
	"log/slog"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/domain/tx"
	"txflow/internal/errs"
	"txflow/internal/ports"
)

// Callbacks only fire for the scope that owns the synchronization.

func (e *Engine) triggerBeforeCommit(ctx context.Context, reg *tx.Registry, st *tx.Status) error {
	if !st.IsNewSynchronization() {
		return nil
	}
	for _, s := range reg.Synchronizations() {
		if err := s.BeforeCommit(ctx, st.IsReadOnly()); err != nil {
			return errs.Wrapf(err, "before commit %T", s)
		}
	}
	return nil
}

func (e *Engine) triggerBeforeCompletion(ctx context.Context, reg *tx.Registry, st *tx.Status) {
	if !st.IsNewSynchronization() {
		return
	}
	for _, s := range reg.Synchronizations() {
		if err := s.BeforeCompletion(ctx); err != nil {
			logging.Error(ctx, "synchronization before completion failed",
				slog.String("synchronization", fmt.Sprintf("%T", s)),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}

func (e *Engine) triggerAfterCommit(ctx context.Context, reg *tx.Registry, st *tx.Status) error {
	if !st.IsNewSynchronization() {
		return nil
	}
	for _, s := range reg.Synchronizations() {
		if err := s.AfterCommit(ctx); err != nil {
			return errs.Wrapf(err, "after commit %T", s)
		}
	}
	return nil
}

func (e *Engine) triggerAfterCompletion(ctx context.Context, reg *tx.Registry, st *tx.Status, status tx.CompletionStatus) {
	if !st.IsNewSynchronization() {
		return
	}
	synchronizations := reg.Synchronizations()
	if reg.IsSynchronizationActive() {
		_ = reg.ClearSynchronization()
	}

	if !st.HasTransaction() || st.OwnsTransaction() {
		invokeAfterCompletion(ctx, synchronizations, status)
		return
	}
	if len(synchronizations) == 0 {
		return
	}

	// Participating in a transaction this scope did not start: the outcome of
	// the outer transaction is not known here.
	if registrar, ok := e.provider.(ports.AfterCompletionRegistrar); ok {
		err := registrar.RegisterAfterCompletionWithExistingTransaction(ctx, st.Handle(), synchronizations)
		if err == nil {
			return
		}
		logging.Warn(ctx, "register after completion with existing transaction failed",
			slog.Any("err", errs.Loggable(err)),
		)
	}
	invokeAfterCompletion(ctx, synchronizations, tx.CompletionUnknown)
}

func invokeAfterCompletion(ctx context.Context, synchronizations []tx.Synchronization, status tx.CompletionStatus) {
	for _, s := range synchronizations {
		if err := s.AfterCompletion(ctx, status); err != nil {
			logging.Error(ctx, "synchronization after completion failed",
				slog.String("synchronization", fmt.Sprintf("%T", s)),
				slog.String("completion", status.String()),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}
