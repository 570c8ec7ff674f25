package ports

import (
	"context"

	"txflow/internal/domain/tx"
)

// Tx is an opaque transaction handle for repositories/adapters.
// Infrastructure controls the concrete type.
type Tx interface{}

// UnitOfWork defines a transaction boundary.
//
// This is intentionally callback-style: returning an error causes rollback,
// returning nil causes commit.
type UnitOfWork interface {
	// WithTx runs fn with REQUIRED propagation.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// Execute runs fn under the given definition.
	Execute(ctx context.Context, def tx.Definition, fn func(ctx context.Context) error) error
}

type txKey struct{}

// WithTxContext stores a transaction handle in context. A nil handle hides any
// handle stored by an outer scope.
func WithTxContext(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// TxFromContext reads a transaction handle from context.
func TxFromContext(ctx context.Context) Tx {
	return ctx.Value(txKey{})
}
