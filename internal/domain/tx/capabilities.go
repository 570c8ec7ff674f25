package tx

import "context"

// Handle is the provider's opaque transaction object. The engine only passes it back.
type Handle interface{}

// SuspendedHandle is whatever a provider needs to reattach a detached resource.
type SuspendedHandle interface{}

// Savepoint is an opaque marker returned by a SavepointManager.
type Savepoint interface{}

// SavepointManager is implemented by handles whose resource supports savepoints.
type SavepointManager interface {
	CreateSavepoint(ctx context.Context) (Savepoint, error)
	RollbackToSavepoint(ctx context.Context, sp Savepoint) error
	ReleaseSavepoint(ctx context.Context, sp Savepoint) error
}

// RollbackOnlyReporter is implemented by handles that expose the global
// rollback-only marker of the physical transaction.
type RollbackOnlyReporter interface {
	IsRollbackOnly() bool
}
