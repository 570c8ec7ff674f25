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

// Engine decides propagation for each requested scope and drives commit and
// rollback through a ResourceProvider. It keeps no per-transaction state: all
// of it lives in the tx.Registry carried by the context and in the tx.Status.
type Engine struct {
	provider ports.ResourceProvider
	cfg      Config
	metrics  *Metrics
}

type Option func(*Engine)

// WithMetrics records engine outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(provider ports.ResourceProvider, cfg Config, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("resource provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, "validate engine config")
	}

	e := &Engine{provider: provider, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// GetTransaction opens a scope for def. ctx must carry a tx.Registry
// (see tx.WithRegistry); the returned status must be passed to Commit or
// Rollback exactly once with a context carrying the same registry.
func (e *Engine) GetTransaction(ctx context.Context, def tx.Definition) (*tx.Status, error) {
	reg, err := registryOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "txengine"),
		slog.String("propagation", def.Propagation.String()),
	)

	h, err := e.provider.ObtainTransaction(ctx)
	if err != nil {
		return nil, tx.ResourceFailure(err, "obtain transaction")
	}

	if e.provider.IsExistingTransaction(h) {
		return e.handleExistingTransaction(logCtx, reg, def, h)
	}

	switch def.Propagation {
	case tx.PropagationMandatory:
		return nil, tx.Errorf(tx.KindIllegalState, "no existing transaction found for transaction marked with propagation 'mandatory'")

	case tx.PropagationRequired, tx.PropagationRequiresNew, tx.PropagationNested:
		suspended, err := e.suspend(logCtx, reg, nil)
		if err != nil {
			return nil, err
		}
		logging.Debug(logCtx, "creating new transaction", slog.String("definition", def.String()))

		st, err := e.startTransaction(logCtx, reg, def, h, suspended)
		if err != nil {
			return nil, e.resumeAfterBeginFailure(logCtx, reg, nil, suspended, err)
		}
		return st, nil

	default:
		if def.Isolation != tx.IsolationDefault {
			logging.Warn(logCtx, "custom isolation level specified but no actual transaction initiated; isolation level will effectively be ignored",
				slog.String("definition", def.String()),
			)
		}
		newSync := e.cfg.Synchronization == SynchronizationAlways && !reg.IsSynchronizationActive()
		return e.prepareStatus(reg, tx.SynchronizationOnlyStatus(def, true, newSync, nil))
	}
}

func (e *Engine) handleExistingTransaction(ctx context.Context, reg *tx.Registry, def tx.Definition, h tx.Handle) (*tx.Status, error) {
	switch def.Propagation {
	case tx.PropagationNever:
		return nil, tx.Errorf(tx.KindIllegalState, "existing transaction found for transaction marked with propagation 'never'")

	case tx.PropagationNotSupported:
		logging.Debug(ctx, "suspending current transaction")
		suspended, err := e.suspend(ctx, reg, h)
		if err != nil {
			return nil, err
		}
		newSync := e.cfg.Synchronization == SynchronizationAlways
		return e.prepareStatus(reg, tx.SynchronizationOnlyStatus(def, false, newSync, suspended))

	case tx.PropagationRequiresNew:
		logging.Debug(ctx, "suspending current transaction, creating new transaction", slog.String("definition", def.String()))
		suspended, err := e.suspend(ctx, reg, h)
		if err != nil {
			return nil, err
		}
		st, err := e.startTransaction(ctx, reg, def, h, suspended)
		if err != nil {
			return nil, e.resumeAfterBeginFailure(ctx, reg, h, suspended, err)
		}
		return st, nil

	case tx.PropagationNested:
		if !e.cfg.NestedTransactionAllowed {
			return nil, tx.Errorf(tx.KindNestedNotSupported, "transaction engine does not allow nested transactions - enable nested transactions in the engine config")
		}
		if !e.provider.UseSavepointForNested() {
			// The provider nests begin/commit on the same handle itself.
			logging.Debug(ctx, "creating nested transaction", slog.String("definition", def.String()))
			return e.startTransaction(ctx, reg, def, h, nil)
		}

		sm, ok := h.(tx.SavepointManager)
		if !ok {
			return nil, tx.Errorf(tx.KindNestedNotSupported, "transaction handle %T does not support savepoints", h)
		}
		sp, err := sm.CreateSavepoint(ctx)
		if err != nil {
			return nil, tx.ResourceFailure(err, "create savepoint")
		}
		logging.Debug(ctx, "created savepoint for nested transaction", slog.String("definition", def.String()))
		e.metrics.savepoint(ctx)
		return tx.SavepointStatus(def, h, sp), nil
	}

	// REQUIRED, SUPPORTS, MANDATORY
	if e.cfg.ValidateExistingTransaction {
		if err := validateParticipation(reg, def); err != nil {
			return nil, err
		}
	}
	logging.Debug(ctx, "participating in existing transaction")
	newSync := e.cfg.Synchronization != SynchronizationNever && !reg.IsSynchronizationActive()
	return e.prepareStatus(reg, tx.ParticipatingStatus(def, h, newSync))
}

func validateParticipation(reg *tx.Registry, def tx.Definition) error {
	if def.Isolation != tx.IsolationDefault {
		current := reg.CurrentIsolation()
		if current != def.Isolation {
			currentName := "(unknown)"
			if current != tx.IsolationDefault {
				currentName = current.String()
			}
			return tx.Errorf(tx.KindIllegalState,
				"participating transaction with definition [%s] specifies isolation level which is incompatible with existing transaction: %s",
				def, currentName)
		}
	}
	if !def.ReadOnly && reg.IsCurrentTransactionReadOnly() {
		return tx.Errorf(tx.KindIllegalState,
			"participating transaction with definition [%s] is not marked as read-only but existing transaction is", def)
	}
	return nil
}

func (e *Engine) startTransaction(ctx context.Context, reg *tx.Registry, def tx.Definition, h tx.Handle, suspended *tx.SuspendedResources) (*tx.Status, error) {
	newSync := e.cfg.Synchronization != SynchronizationNever && !reg.IsSynchronizationActive()
	if err := e.provider.Begin(ctx, h, e.effectiveDefinition(def)); err != nil {
		return nil, tx.ResourceFailure(err, "begin transaction")
	}
	e.metrics.begin(ctx, def.Propagation)
	return e.prepareStatus(reg, tx.NewTransactionStatus(def, h, newSync, suspended))
}

// prepareStatus publishes the scope to the registry when it owns new synchronization.
func (e *Engine) prepareStatus(reg *tx.Registry, st *tx.Status) (*tx.Status, error) {
	if !st.IsNewSynchronization() {
		return st, nil
	}
	def := st.Definition()
	reg.SetState(tx.ContextState{
		Name:      def.Name,
		ReadOnly:  def.ReadOnly,
		Isolation: def.Isolation,
		Active:    st.HasTransaction(),
	})
	if err := reg.InitSynchronization(); err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) effectiveDefinition(def tx.Definition) tx.Definition {
	if def.Timeout == tx.TimeoutDefault {
		def.Timeout = e.cfg.DefaultTimeout
	}
	return def
}

func (e *Engine) resumeAfterBeginFailure(ctx context.Context, reg *tx.Registry, h tx.Handle, suspended *tx.SuspendedResources, beginErr error) error {
	if err := e.resume(ctx, reg, h, suspended); err != nil {
		logging.Error(ctx, "inner transaction begin failure accompanied by outer transaction resume failure",
			slog.Any("err", errs.Loggable(beginErr)),
			slog.Any("resume_err", errs.Loggable(err)),
		)
		return errors.Join(beginErr, errs.Wrap(err, "resume suspended transaction"))
	}
	return beginErr
}

func registryOf(ctx context.Context) (*tx.Registry, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	reg := tx.RegistryFrom(ctx)
	if reg == nil {
		return nil, tx.Errorf(tx.KindIllegalState, "no transaction registry bound to context")
	}
	return reg, nil
}
