package tx

import "context"

// CompletionStatus is passed to AfterCompletion.
type CompletionStatus int

const (
	CompletionCommitted CompletionStatus = iota
	CompletionRolledBack
	// CompletionUnknown: a provider error left the outcome undetermined.
	CompletionUnknown
)

func (s CompletionStatus) String() string {
	switch s {
	case CompletionCommitted:
		return "committed"
	case CompletionRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Synchronization receives transaction lifecycle callbacks.
//
// BeforeCommit and AfterCommit errors are returned to the committing caller.
// BeforeCompletion and AfterCompletion errors are logged and otherwise ignored,
// so one failing listener cannot stop the others from running.
type Synchronization interface {
	Suspend(ctx context.Context)
	Resume(ctx context.Context)
	BeforeCommit(ctx context.Context, readOnly bool) error
	BeforeCompletion(ctx context.Context) error
	AfterCommit(ctx context.Context) error
	AfterCompletion(ctx context.Context, status CompletionStatus) error
}

// Ordered synchronizations run in ascending Order. Unordered ones run last,
// in registration order.
type Ordered interface {
	Order() int
}

// SynchronizationAdapter is embedded by listeners that only need a few callbacks.
type SynchronizationAdapter struct{}

func (SynchronizationAdapter) Suspend(context.Context)                   {}
func (SynchronizationAdapter) Resume(context.Context)                    {}
func (SynchronizationAdapter) BeforeCommit(context.Context, bool) error  { return nil }
func (SynchronizationAdapter) BeforeCompletion(context.Context) error    { return nil }
func (SynchronizationAdapter) AfterCommit(context.Context) error         { return nil }
func (SynchronizationAdapter) AfterCompletion(context.Context, CompletionStatus) error {
	return nil
}

// SynchronizationFuncs adapts plain functions; nil fields are skipped.
type SynchronizationFuncs struct {
	OnSuspend          func(ctx context.Context)
	OnResume           func(ctx context.Context)
	OnBeforeCommit     func(ctx context.Context, readOnly bool) error
	OnBeforeCompletion func(ctx context.Context) error
	OnAfterCommit      func(ctx context.Context) error
	OnAfterCompletion  func(ctx context.Context, status CompletionStatus) error
}

var _ Synchronization = (*SynchronizationFuncs)(nil)

func (f *SynchronizationFuncs) Suspend(ctx context.Context) {
	if f.OnSuspend != nil {
		f.OnSuspend(ctx)
	}
}

func (f *SynchronizationFuncs) Resume(ctx context.Context) {
	if f.OnResume != nil {
		f.OnResume(ctx)
	}
}

func (f *SynchronizationFuncs) BeforeCommit(ctx context.Context, readOnly bool) error {
	if f.OnBeforeCommit == nil {
		return nil
	}
	return f.OnBeforeCommit(ctx, readOnly)
}

func (f *SynchronizationFuncs) BeforeCompletion(ctx context.Context) error {
	if f.OnBeforeCompletion == nil {
		return nil
	}
	return f.OnBeforeCompletion(ctx)
}

func (f *SynchronizationFuncs) AfterCommit(ctx context.Context) error {
	if f.OnAfterCommit == nil {
		return nil
	}
	return f.OnAfterCommit(ctx)
}

func (f *SynchronizationFuncs) AfterCompletion(ctx context.Context, status CompletionStatus) error {
	if f.OnAfterCompletion == nil {
		return nil
	}
	return f.OnAfterCompletion(ctx, status)
}
