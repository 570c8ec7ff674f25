package txengine

import (
	"context"
	"errors"
	"log/slog"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/domain/tx"
	"txflow/internal/errs"
)

// Rollback ends the scope of st in rollback. For a participating scope this
// only marks the physical transaction, depending on policy.
func (e *Engine) Rollback(ctx context.Context, st *tx.Status) error {
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
	return e.processRollback(logCtx, reg, st, false)
}

// processRollback with unexpected=true reports UnexpectedRollback once the
// resource is safely rolled back or marked.
func (e *Engine) processRollback(ctx context.Context, reg *tx.Registry, st *tx.Status, unexpected bool) (err error) {
	defer func() {
		err = e.cleanupAfterCompletion(ctx, reg, st, err)
	}()

	e.triggerBeforeCompletion(ctx, reg, st)

	var rollbackErr error
	switch {
	case st.HasSavepoint():
		logging.Debug(ctx, "rolling back transaction to savepoint")
		rollbackErr = rollbackToHeldSavepoint(ctx, st)
	case st.OwnsTransaction():
		logging.Debug(ctx, "initiating transaction rollback")
		rollbackErr = e.provider.Rollback(ctx, st)
	default:
		if st.HasTransaction() {
			if st.IsLocalRollbackOnly() || e.cfg.GlobalRollbackOnParticipationFailure {
				logging.Debug(ctx, "participating transaction failed - marking existing transaction as rollback-only")
				rollbackErr = e.provider.SetRollbackOnly(ctx, st)
			} else {
				logging.Debug(ctx, "participating transaction failed - letting transaction originator decide on rollback")
			}
		} else {
			logging.Debug(ctx, "should roll back transaction but cannot - no transaction available")
		}
		if !e.cfg.FailEarlyOnGlobalRollbackOnly {
			unexpected = false
		}
	}

	if rollbackErr != nil {
		e.triggerAfterCompletion(ctx, reg, st, tx.CompletionUnknown)
		return tx.ResourceFailure(errs.WithStack(rollbackErr), "roll back transaction")
	}

	e.metrics.rollback(ctx, st.Scope())
	e.triggerAfterCompletion(ctx, reg, st, tx.CompletionRolledBack)

	if unexpected {
		e.metrics.recordUnexpectedRollback(ctx)
		return tx.Errorf(tx.KindUnexpectedRollback,
			"transaction rolled back because it has been marked as rollback-only")
	}
	return nil
}

// cleanupAfterCompletion always runs once per status. A resume failure is
// joined with the error the scope already produced.
func (e *Engine) cleanupAfterCompletion(ctx context.Context, reg *tx.Registry, st *tx.Status, err error) error {
	st.SetCompleted()
	if st.IsNewSynchronization() {
		reg.Clear()
	}
	if st.OwnsTransaction() {
		e.provider.Cleanup(ctx, st.Handle())
	}

	suspended := st.SuspendedResources()
	if suspended == nil {
		return err
	}
	logging.Debug(ctx, "resuming suspended transaction after completion of inner transaction")
	if rerr := e.resume(ctx, reg, st.Handle(), suspended); rerr != nil {
		logging.Error(ctx, "resume suspended transaction failed", slog.Any("err", errs.Loggable(rerr)))
		if err == nil {
			return rerr
		}
		return errors.Join(err, rerr)
	}
	return err
}
