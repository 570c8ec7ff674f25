package txengine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"txflow/internal/domain/tx"
	"txflow/internal/errs"
)

// Metrics counts engine outcomes. A nil *Metrics records nothing.
type Metrics struct {
	begun              metric.Int64Counter
	committed          metric.Int64Counter
	rolledBack         metric.Int64Counter
	unexpectedRollback metric.Int64Counter
	suspended          metric.Int64Counter
	savepoints         metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	var (
		m   Metrics
		err error
	)
	if m.begun, err = meter.Int64Counter("txflow.transactions.begun",
		metric.WithDescription("Physical transactions begun")); err != nil {
		return nil, errs.Wrap(err, "create begun counter")
	}
	if m.committed, err = meter.Int64Counter("txflow.transactions.committed",
		metric.WithDescription("Scopes committed")); err != nil {
		return nil, errs.Wrap(err, "create committed counter")
	}
	if m.rolledBack, err = meter.Int64Counter("txflow.transactions.rolled_back",
		metric.WithDescription("Scopes rolled back or marked rollback-only")); err != nil {
		return nil, errs.Wrap(err, "create rolled back counter")
	}
	if m.unexpectedRollback, err = meter.Int64Counter("txflow.transactions.unexpected_rollback",
		metric.WithDescription("Commits that ended in rollback")); err != nil {
		return nil, errs.Wrap(err, "create unexpected rollback counter")
	}
	if m.suspended, err = meter.Int64Counter("txflow.transactions.suspended",
		metric.WithDescription("Suspensions of an outer scope")); err != nil {
		return nil, errs.Wrap(err, "create suspended counter")
	}
	if m.savepoints, err = meter.Int64Counter("txflow.savepoints.created",
		metric.WithDescription("Savepoints created for nested scopes")); err != nil {
		return nil, errs.Wrap(err, "create savepoints counter")
	}
	return &m, nil
}

func (m *Metrics) begin(ctx context.Context, p tx.Propagation) {
	if m == nil {
		return
	}
	m.begun.Add(ctx, 1, metric.WithAttributes(attribute.String("propagation", p.String())))
}

func (m *Metrics) commit(ctx context.Context, scope tx.ScopeKind) {
	if m == nil {
		return
	}
	m.committed.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope.String())))
}

func (m *Metrics) rollback(ctx context.Context, scope tx.ScopeKind) {
	if m == nil {
		return
	}
	m.rolledBack.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope.String())))
}

func (m *Metrics) recordUnexpectedRollback(ctx context.Context) {
	if m == nil {
		return
	}
	m.unexpectedRollback.Add(ctx, 1)
}

func (m *Metrics) suspend(ctx context.Context) {
	if m == nil {
		return
	}
	m.suspended.Add(ctx, 1)
}

func (m *Metrics) savepoint(ctx context.Context) {
	if m == nil {
		return
	}
	m.savepoints.Add(ctx, 1)
}
