package ports

import (
	"context"

	"txflow/internal/domain/tx"
)

// ResourceProvider physically manages one kind of transactional resource.
// The engine decides propagation; the provider begins, suspends, resumes,
// commits and rolls back.
type ResourceProvider interface {
	// ObtainTransaction returns a fresh handle that reflects any transaction
	// already active for the context's tx.Registry.
	ObtainTransaction(ctx context.Context) (tx.Handle, error)
	IsExistingTransaction(h tx.Handle) bool
	Begin(ctx context.Context, h tx.Handle, def tx.Definition) error
	// Suspend detaches the handle's resource from the context. Providers that
	// cannot detach return tx.ErrSuspensionNotSupported.
	Suspend(ctx context.Context, h tx.Handle) (tx.SuspendedHandle, error)
	Resume(ctx context.Context, h tx.Handle, suspended tx.SuspendedHandle) error
	Commit(ctx context.Context, status *tx.Status) error
	Rollback(ctx context.Context, status *tx.Status) error
	// SetRollbackOnly sets the global rollback-only marker on the physical transaction.
	SetRollbackOnly(ctx context.Context, status *tx.Status) error
	// UseSavepointForNested reports whether NESTED maps to a savepoint. When false
	// the provider tracks nested Begin/Commit calls on the same handle itself.
	UseSavepointForNested() bool
	// Cleanup runs after a scope that began a transaction completed. Best effort.
	Cleanup(ctx context.Context, h tx.Handle)
}

// CommitPreparer is an optional hook run before commit callbacks fire.
type CommitPreparer interface {
	PrepareForCommit(ctx context.Context, status *tx.Status) error
}

// GlobalRollbackCommitter lets a provider commit even when the global
// rollback-only marker is set (it then reports the rollback itself).
type GlobalRollbackCommitter interface {
	ShouldCommitOnGlobalRollbackOnly() bool
}

// AfterCompletionRegistrar takes over after-completion callbacks of a scope that
// participates in a transaction the engine did not start.
type AfterCompletionRegistrar interface {
	RegisterAfterCompletionWithExistingTransaction(ctx context.Context, h tx.Handle, synchronizations []tx.Synchronization) error
}
