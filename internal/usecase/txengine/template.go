package txengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/domain/tx"
	"txflow/internal/errs"
	"txflow/internal/ports"
)

// Template implements ports.UnitOfWork on top of an Engine: fn's error rolls
// the scope back, nil commits it.
type Template struct {
	engine     *Engine
	def        tx.Definition
	rollbackOn func(error) bool
	tracer     trace.Tracer
}

var _ ports.UnitOfWork = (*Template)(nil)

func NewTemplate(engine *Engine) *Template {
	return &Template{
		engine: engine,
		def:    tx.DefaultDefinition(),
		tracer: nooptrace.NewTracerProvider().Tracer(""),
	}
}

// WithTracer returns a copy that opens one span per scope.
func (t *Template) WithTracer(tracer trace.Tracer) *Template {
	c := *t
	if tracer != nil {
		c.tracer = tracer
	}
	return &c
}

// WithDefinition returns a copy whose WithTx uses def.
func (t *Template) WithDefinition(def tx.Definition) *Template {
	c := *t
	c.def = def
	return &c
}

// WithRollbackOn returns a copy that only rolls back for errors matching fn.
// Other errors are returned after the scope commits.
func (t *Template) WithRollbackOn(fn func(error) bool) *Template {
	c := *t
	c.rollbackOn = fn
	return &c
}

func (t *Template) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.Execute(ctx, t.def, fn)
}

// Execute runs fn in a scope opened for def. The context passed to fn carries
// the scope's handle (ports.TxFromContext) and the shared tx.Registry.
func (t *Template) Execute(ctx context.Context, def tx.Definition, fn func(ctx context.Context) error) (err error) {
	if ctx == nil {
		return errors.New("context is required")
	}
	if t.engine == nil {
		return errors.New("transaction engine is required")
	}
	if fn == nil {
		return errors.New("transaction callback is required")
	}

	ctx, span := t.tracer.Start(ctx, "tx "+def.Propagation.String(), trace.WithAttributes(
		attribute.String("tx.propagation", def.Propagation.String()),
		attribute.String("tx.name", def.Name),
		attribute.Bool("tx.read_only", def.ReadOnly),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, _ = tx.WithRegistry(ctx)
	st, err := t.engine.GetTransaction(ctx, def)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("tx.scope", st.Scope().String()),
		attribute.String("tx.status_id", st.ID()),
	)

	scoped := ports.WithTxContext(ctx, st.Handle())
	scoped = context.WithValue(scoped, statusKey{}, st)
	scoped = logging.WithAttrs(scoped, slog.String("tx_status", st.ID()))
	if sc := span.SpanContext(); sc.IsValid() {
		scoped = logging.WithTelemetry(scoped, sc.TraceID().String(), sc.SpanID().String())
	}

	done := false
	defer func() {
		if done {
			return
		}
		if r := recover(); r != nil {
			_ = t.rollbackOnFailure(ctx, st, fmt.Errorf("panic in transaction callback: %v", r))
			panic(r)
		}
	}()

	fnErr := fn(scoped)
	done = true

	if fnErr != nil {
		if t.rollbackOn == nil || t.rollbackOn(fnErr) {
			return t.rollbackOnFailure(ctx, st, fnErr)
		}
		if cerr := t.engine.Commit(ctx, st); cerr != nil {
			return errors.Join(fnErr, cerr)
		}
		return fnErr
	}
	return t.engine.Commit(ctx, st)
}

// rollbackOnFailure keeps the application error first; a rollback error is joined.
func (t *Template) rollbackOnFailure(ctx context.Context, st *tx.Status, appErr error) error {
	if err := t.engine.Rollback(ctx, st); err != nil {
		logging.Error(ctx, "application error overridden by rollback error",
			slog.Any("err", errs.Loggable(appErr)),
			slog.Any("rollback_err", errs.Loggable(err)),
		)
		return errors.Join(appErr, err)
	}
	return appErr
}

// ExecuteWithResult runs fn through uow under def and returns its value.
func ExecuteWithResult[T any](ctx context.Context, uow ports.UnitOfWork, def tx.Definition, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := uow.Execute(ctx, def, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RegisterSynchronization adds s to the scope active in ctx.
func RegisterSynchronization(ctx context.Context, s tx.Synchronization) error {
	reg, err := registryOf(ctx)
	if err != nil {
		return err
	}
	return reg.RegisterSynchronization(s)
}

type statusKey struct{}

// CurrentStatus returns the status of the innermost scope opened by a
// Template in ctx. Callbacks use it to mark their scope rollback-only.
func CurrentStatus(ctx context.Context) (*tx.Status, bool) {
	st, ok := ctx.Value(statusKey{}).(*tx.Status)
	return st, ok && st != nil
}

// CurrentState reports the transaction fields of the scope active in ctx.
func CurrentState(ctx context.Context) (tx.ContextState, bool) {
	reg := tx.RegistryFrom(ctx)
	if reg == nil {
		return tx.ContextState{}, false
	}
	return reg.State(), true
}
