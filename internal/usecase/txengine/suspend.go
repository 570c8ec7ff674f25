package txengine

import (
	"context"
	"errors"

	"txflow/internal/domain/tx"
	"txflow/internal/errs"
)

// suspend detaches the current scope: synchronizations and context fields if
// synchronization is active, and the physical resource if h is not nil.
// A nil result means there was nothing to resume.
func (e *Engine) suspend(ctx context.Context, reg *tx.Registry, h tx.Handle) (*tx.SuspendedResources, error) {
	if reg.IsSynchronizationActive() {
		synchronizations, err := e.suspendSynchronizations(ctx, reg)
		if err != nil {
			return nil, err
		}

		var detached tx.SuspendedHandle
		if h != nil {
			detached, err = e.provider.Suspend(ctx, h)
			if err != nil {
				err = suspendFailure(err)
				if rerr := e.resumeSynchronizations(ctx, reg, synchronizations); rerr != nil {
					return nil, errors.Join(err, errs.Wrap(rerr, "reactivate synchronizations"))
				}
				return nil, err
			}
		}

		state := reg.State()
		reg.SetState(tx.ContextState{})
		e.metrics.suspend(ctx)
		return &tx.SuspendedResources{
			Handle:                detached,
			SynchronizationActive: true,
			Synchronizations:      synchronizations,
			State:                 state,
		}, nil
	}

	if h != nil {
		detached, err := e.provider.Suspend(ctx, h)
		if err != nil {
			return nil, suspendFailure(err)
		}
		e.metrics.suspend(ctx)
		return &tx.SuspendedResources{Handle: detached}, nil
	}

	return nil, nil
}

// resume reattaches the resource first, then restores context fields and
// re-registers the suspended synchronizations.
func (e *Engine) resume(ctx context.Context, reg *tx.Registry, h tx.Handle, suspended *tx.SuspendedResources) error {
	if suspended == nil {
		return nil
	}
	if suspended.Handle != nil {
		if err := e.provider.Resume(ctx, h, suspended.Handle); err != nil {
			return tx.ResourceFailure(err, "resume transaction")
		}
	}
	if suspended.SynchronizationActive {
		reg.SetState(suspended.State)
		return e.resumeSynchronizations(ctx, reg, suspended.Synchronizations)
	}
	return nil
}

func (e *Engine) suspendSynchronizations(ctx context.Context, reg *tx.Registry) ([]tx.Synchronization, error) {
	synchronizations := reg.Synchronizations()
	for _, s := range synchronizations {
		s.Suspend(ctx)
	}
	if err := reg.ClearSynchronization(); err != nil {
		return nil, err
	}
	return synchronizations, nil
}

func (e *Engine) resumeSynchronizations(ctx context.Context, reg *tx.Registry, synchronizations []tx.Synchronization) error {
	if err := reg.InitSynchronization(); err != nil {
		return err
	}
	for _, s := range synchronizations {
		s.Resume(ctx)
		if err := reg.RegisterSynchronization(s); err != nil {
			return err
		}
	}
	return nil
}

func suspendFailure(err error) error {
	if errors.Is(err, tx.ErrSuspensionNotSupported) {
		return err
	}
	return tx.ResourceFailure(err, "suspend transaction")
}
