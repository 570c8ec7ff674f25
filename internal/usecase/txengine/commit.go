package txengine

import (
	"context"
	"errors"
	"log/slog"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/domain/tx"
	"txflow/internal/errs"
	"txflow/internal/ports"
)

var errCompleted = tx.Errorf(tx.KindIllegalState,
	"transaction is already completed - do not call commit or rollback more than once per transaction")

// Commit completes the scope of st. A scope marked rollback-only, locally or
// globally, is rolled back instead.
func (e *Engine) Commit(ctx context.Context, st *tx.Status) error {
	if st == nil {
		return errors.New("transaction status is required")
	}
	if st.IsCompleted() {
		return errCompleted
	}
	reg, err := registryOf(ctx)
	if err != nil {
		return err
	}
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "txengine"),
		slog.String("tx_status", st.ID()),
		slog.String("scope", st.Scope().String()),
	)

	if st.IsLocalRollbackOnly() {
		logging.Debug(logCtx, "transactional code has requested rollback")
		return e.processRollback(logCtx, reg, st, false)
	}
	if !e.shouldCommitOnGlobalRollbackOnly() && st.IsGlobalRollbackOnly() {
		logging.Debug(logCtx, "global transaction is marked as rollback-only but transactional code requested commit")
		return e.processRollback(logCtx, reg, st, true)
	}
	return e.processCommit(logCtx, reg, st)
}

func (e *Engine) processCommit(ctx context.Context, reg *tx.Registry, st *tx.Status) (err error) {
	defer func() {
		err = e.cleanupAfterCompletion(ctx, reg, st, err)
	}()

	beforeCompletionInvoked := false
	abort := func(cause error) error {
		if !beforeCompletionInvoked {
			e.triggerBeforeCompletion(ctx, reg, st)
		}
		e.rollbackOnCommitFailure(ctx, reg, st, cause)
		return cause
	}

	if p, ok := e.provider.(ports.CommitPreparer); ok {
		if err := p.PrepareForCommit(ctx, st); err != nil {
			return abort(err)
		}
	}
	if err := e.triggerBeforeCommit(ctx, reg, st); err != nil {
		return abort(err)
	}
	e.triggerBeforeCompletion(ctx, reg, st)
	beforeCompletionInvoked = true

	unexpectedRollback := false
	var commitErr error
	switch {
	case st.HasSavepoint():
		logging.Debug(ctx, "releasing transaction savepoint")
		unexpectedRollback = st.IsGlobalRollbackOnly()
		commitErr = releaseHeldSavepoint(ctx, st)
	case st.OwnsTransaction():
		logging.Debug(ctx, "initiating transaction commit")
		unexpectedRollback = st.IsGlobalRollbackOnly()
		commitErr = e.provider.Commit(ctx, st)
	case e.cfg.FailEarlyOnGlobalRollbackOnly:
		unexpectedRollback = st.IsGlobalRollbackOnly()
	}

	if commitErr != nil {
		if errors.Is(commitErr, tx.ErrUnexpectedRollback) {
			e.triggerAfterCompletion(ctx, reg, st, tx.CompletionRolledBack)
			e.metrics.recordUnexpectedRollback(ctx)
			return commitErr
		}
		commitErr = tx.ResourceFailure(errs.WithStack(commitErr), "commit transaction")
		if e.cfg.RollbackOnCommitFailure {
			e.rollbackOnCommitFailure(ctx, reg, st, commitErr)
		} else {
			e.triggerAfterCompletion(ctx, reg, st, tx.CompletionUnknown)
		}
		return commitErr
	}

	if unexpectedRollback {
		e.triggerAfterCompletion(ctx, reg, st, tx.CompletionRolledBack)
		e.metrics.recordUnexpectedRollback(ctx)
		return tx.Errorf(tx.KindUnexpectedRollback,
			"transaction silently rolled back because it has been marked as rollback-only")
	}

	e.metrics.commit(ctx, st.Scope())
	afterCommitErr := e.triggerAfterCommit(ctx, reg, st)
	e.triggerAfterCompletion(ctx, reg, st, tx.CompletionCommitted)
	return afterCommitErr
}

// rollbackOnCommitFailure undoes what it can after a failed commit. The commit
// failure stays the reported error; a rollback failure is only logged.
func (e *Engine) rollbackOnCommitFailure(ctx context.Context, reg *tx.Registry, st *tx.Status, cause error) {
	var err error
	switch {
	case st.OwnsTransaction():
		logging.Debug(ctx, "initiating transaction rollback after commit failure")
		err = e.provider.Rollback(ctx, st)
	case st.HasTransaction() && e.cfg.GlobalRollbackOnParticipationFailure:
		logging.Debug(ctx, "marking existing transaction as rollback-only after commit failure")
		err = e.provider.SetRollbackOnly(ctx, st)
	}

	if err != nil {
		logging.Error(ctx, "commit failure overrode rollback failure",
			slog.Any("err", errs.Loggable(cause)),
			slog.Any("rollback_err", errs.Loggable(err)),
		)
		e.triggerAfterCompletion(ctx, reg, st, tx.CompletionUnknown)
		return
	}
	e.metrics.rollback(ctx, st.Scope())
	e.triggerAfterCompletion(ctx, reg, st, tx.CompletionRolledBack)
}

func (e *Engine) shouldCommitOnGlobalRollbackOnly() bool {
	c, ok := e.provider.(ports.GlobalRollbackCommitter)
	return ok && c.ShouldCommitOnGlobalRollbackOnly()
}

func releaseHeldSavepoint(ctx context.Context, st *tx.Status) error {
	sm, sp, err := heldSavepoint(st)
	if err != nil {
		return err
	}
	return sm.ReleaseSavepoint(ctx, sp)
}

func rollbackToHeldSavepoint(ctx context.Context, st *tx.Status) error {
	sm, sp, err := heldSavepoint(st)
	if err != nil {
		return err
	}
	if err := sm.RollbackToSavepoint(ctx, sp); err != nil {
		return err
	}
	return sm.ReleaseSavepoint(ctx, sp)
}

func heldSavepoint(st *tx.Status) (tx.SavepointManager, tx.Savepoint, error) {
	sp, ok := st.Savepoint()
	if !ok {
		return nil, nil, tx.Errorf(tx.KindIllegalState, "no savepoint associated with current transaction")
	}
	sm, ok := st.Handle().(tx.SavepointManager)
	if !ok {
		return nil, nil, tx.Errorf(tx.KindNestedNotSupported, "transaction handle %T does not support savepoints", st.Handle())
	}
	return sm, sp, nil
}
