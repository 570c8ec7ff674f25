package txengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"txflow/internal/domain/tx"
	"txflow/internal/errs"
)

func TestRequiredOnFreshContextCommitsOnce(t *testing.T) {
	f := newFixture(t)

	st := f.begin(t, tx.Definition{Propagation: tx.PropagationRequired, Timeout: tx.TimeoutDefault})
	require.True(t, st.IsNewTransaction())
	require.False(t, st.HasSavepoint())
	require.True(t, st.IsNewSynchronization())
	require.True(t, f.reg.IsActualTransactionActive())
	f.register(t, f.sync("a"))

	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.True(t, st.IsCompleted())
	require.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, f.provider.events)
	require.Equal(t, []string{
		"a.beforeCommit(false)",
		"a.beforeCompletion",
		"a.afterCommit",
		"a.afterCompletion(committed)",
	}, f.log)
	require.False(t, f.reg.IsSynchronizationActive())
	require.False(t, f.reg.IsActualTransactionActive())
	require.False(t, f.reg.HasResource(f.provider))
}

func TestMandatoryWithoutTransactionFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.GetTransaction(f.ctx, definition(tx.PropagationMandatory))
	require.ErrorIs(t, err, tx.ErrIllegalState)
	require.Empty(t, f.provider.events)
}

func TestNeverWithExistingTransactionFails(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired))

	_, err := f.engine.GetTransaction(f.ctx, definition(tx.PropagationNever))
	require.ErrorIs(t, err, tx.ErrIllegalState)
	require.Equal(t, []string{"begin:1"}, f.provider.events)
	require.True(t, f.reg.IsSynchronizationActive())

	require.NoError(t, f.engine.Commit(f.ctx, outer))
}

func TestNeverWithoutTransactionRunsEmpty(t *testing.T) {
	f := newFixture(t)

	st := f.begin(t, definition(tx.PropagationNever))
	require.Nil(t, st.Handle())
	require.True(t, st.IsNewTransaction())
	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.Empty(t, f.provider.events)
}

func TestInvalidTimeoutFails(t *testing.T) {
	f := newFixture(t)

	def := definition(tx.PropagationRequired)
	def.Timeout = -2
	_, err := f.engine.GetTransaction(f.ctx, def)
	require.ErrorIs(t, err, tx.ErrInvalidTimeout)
	require.Equal(t, tx.KindInvalidTimeout, tx.KindOf(err))
	require.Empty(t, f.provider.events)
}

func TestGetTransactionRequiresRegistry(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.GetTransaction(context.Background(), definition(tx.PropagationRequired))
	require.ErrorIs(t, err, tx.ErrIllegalState)
}

func TestRequiresNewSuspendsAndRestoresOuterScope(t *testing.T) {
	f := newFixture(t)

	outerDef := tx.Definition{
		Propagation: tx.PropagationRequired,
		Isolation:   tx.IsolationSerializable,
		Timeout:     tx.TimeoutDefault,
		Name:        "outer",
	}
	outer := f.begin(t, outerDef)
	outerSync := f.sync("outer")
	f.register(t, outerSync)
	captured := f.reg.State()

	inner := f.begin(t, definition(tx.PropagationRequiresNew).WithName("inner").WithReadOnly(true))
	require.True(t, inner.IsNewTransaction())
	require.NotSame(t, outer.Handle(), inner.Handle())
	require.NotNil(t, inner.SuspendedResources())
	require.Equal(t, "inner", f.reg.CurrentTransactionName())
	require.True(t, f.reg.IsCurrentTransactionReadOnly())
	require.Equal(t, tx.IsolationDefault, f.reg.CurrentIsolation())
	require.Empty(t, f.reg.Synchronizations())

	innerSync := f.sync("inner")
	f.register(t, innerSync)
	require.NoError(t, f.engine.Commit(f.ctx, inner))

	require.Equal(t, captured, f.reg.State())
	require.Equal(t, []tx.Synchronization{outerSync}, f.reg.Synchronizations())
	require.Equal(t, []string{"begin:1", "suspend:1", "begin:2", "commit:2", "cleanup:2", "resume:1"}, f.provider.events)

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{
		"outer.suspend",
		"inner.beforeCommit(true)",
		"inner.beforeCompletion",
		"inner.afterCommit",
		"inner.afterCompletion(committed)",
		"outer.resume",
		"outer.beforeCommit(false)",
		"outer.beforeCompletion",
		"outer.afterCommit",
		"outer.afterCompletion(committed)",
	}, f.log)
}

func TestRequiresNewRollbackResumesOuter(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired))

	inner := f.begin(t, definition(tx.PropagationRequiresNew))
	require.NoError(t, f.engine.Rollback(f.ctx, inner))
	require.True(t, f.reg.IsActualTransactionActive())

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{
		"begin:1", "suspend:1", "begin:2", "rollback:2", "cleanup:2", "resume:1", "commit:1", "cleanup:1",
	}, f.provider.events)
}

func TestRequiresNewBeginFailureResumesOuter(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired).WithName("outer"))
	f.register(t, f.sync("outer"))

	f.provider.failBegin = errBoom
	_, err := f.engine.GetTransaction(f.ctx, definition(tx.PropagationRequiresNew))
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, err, tx.ErrResourceFailure)

	require.True(t, f.reg.HasResource(f.provider))
	require.Equal(t, "outer", f.reg.CurrentTransactionName())
	require.Len(t, f.reg.Synchronizations(), 1)

	f.provider.failBegin = nil
	require.NoError(t, f.engine.Commit(f.ctx, outer))
}

func TestSuspendFailureReactivatesSynchronizations(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired).WithName("outer"))
	f.register(t, f.sync("outer"))

	f.provider.failSuspend = tx.Errorf(tx.KindSuspensionNotSupported, "cannot detach")
	_, err := f.engine.GetTransaction(f.ctx, definition(tx.PropagationRequiresNew))
	require.ErrorIs(t, err, tx.ErrSuspensionNotSupported)

	require.True(t, f.reg.IsSynchronizationActive())
	require.Len(t, f.reg.Synchronizations(), 1)
	require.Equal(t, "outer", f.reg.CurrentTransactionName())
	require.Equal(t, []string{"outer.suspend", "outer.resume"}, f.log)

	f.provider.failSuspend = nil
	require.NoError(t, f.engine.Commit(f.ctx, outer))
}

func TestCommitTwiceFails(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))

	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.ErrorIs(t, f.engine.Commit(f.ctx, st), tx.ErrIllegalState)
	require.ErrorIs(t, f.engine.Rollback(f.ctx, st), tx.ErrIllegalState)
}

func TestCommitTwiceFailsAfterFailedCommit(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))

	f.provider.failCommit = errBoom
	require.Error(t, f.engine.Commit(f.ctx, st))
	require.True(t, st.IsCompleted())
	require.ErrorIs(t, f.engine.Commit(f.ctx, st), tx.ErrIllegalState)
}

func TestNestedSavepointRollbackKeepsOuterCommittable(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired))

	nested := f.begin(t, definition(tx.PropagationNested))
	require.True(t, nested.HasSavepoint())
	require.False(t, nested.IsNewTransaction())
	require.False(t, nested.IsNewSynchronization())
	require.Same(t, outer.Handle().(*fakeHandle).res, nested.Handle().(*fakeHandle).res)

	require.NoError(t, f.engine.Rollback(f.ctx, nested))
	require.False(t, outer.IsGlobalRollbackOnly())

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{
		"begin:1", "savepoint:1.1", "rollback-to:1.1", "release:1.1", "commit:1", "cleanup:1",
	}, f.provider.events)
}

func TestNestedSavepointRollbackKeepsEarlierParticipationMarker(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired))

	inner := f.begin(t, definition(tx.PropagationRequired))
	require.NoError(t, f.engine.Rollback(f.ctx, inner))
	require.True(t, outer.IsGlobalRollbackOnly())

	nested := f.begin(t, definition(tx.PropagationNested))
	require.NoError(t, f.engine.Rollback(f.ctx, nested))
	require.True(t, outer.IsGlobalRollbackOnly())

	require.ErrorIs(t, f.engine.Commit(f.ctx, outer), tx.ErrUnexpectedRollback)
	require.Equal(t, "rollback:1", f.provider.events[len(f.provider.events)-2])
}

func TestNestedSavepointCommitReleasesSavepoint(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired))
	nested := f.begin(t, definition(tx.PropagationNested))

	require.NoError(t, f.engine.Commit(f.ctx, nested))
	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{"begin:1", "savepoint:1.1", "release:1.1", "commit:1", "cleanup:1"}, f.provider.events)
}

func TestNestedWithoutTransactionBeginsNew(t *testing.T) {
	f := newFixture(t)

	st := f.begin(t, definition(tx.PropagationNested))
	require.True(t, st.IsNewTransaction())
	require.False(t, st.HasSavepoint())
	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, f.provider.events)
}

func TestNestedDisallowedFails(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.NestedTransactionAllowed = false })
	outer := f.begin(t, definition(tx.PropagationRequired))

	_, err := f.engine.GetTransaction(f.ctx, definition(tx.PropagationNested))
	require.ErrorIs(t, err, tx.ErrNestedNotSupported)
	require.NoError(t, f.engine.Commit(f.ctx, outer))
}

func TestNestedBeginProviderDoesNotDoubleRegisterSynchronizations(t *testing.T) {
	f := newFixture(t)
	f.provider.savepoints = false

	outer := f.begin(t, definition(tx.PropagationRequired))
	f.register(t, f.sync("outer"))

	nested := f.begin(t, definition(tx.PropagationNested))
	require.True(t, nested.IsNewTransaction())
	require.False(t, nested.HasSavepoint())
	require.False(t, nested.IsNewSynchronization())
	require.Len(t, f.reg.Synchronizations(), 1)

	require.NoError(t, f.engine.Commit(f.ctx, nested))
	require.Empty(t, f.log)
	require.True(t, f.reg.IsSynchronizationActive())
	require.True(t, f.reg.HasResource(f.provider))

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{
		"begin:1", "begin-nested:1", "commit-nested:1", "cleanup-nested:1", "commit:1", "cleanup:1",
	}, f.provider.events)
	require.Equal(t, []string{
		"outer.beforeCommit(false)",
		"outer.beforeCompletion",
		"outer.afterCommit",
		"outer.afterCompletion(committed)",
	}, f.log)
}

func TestParticipationFailureMarksGlobalRollbackOnly(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationRequired))

	inner := f.begin(t, definition(tx.PropagationRequired))
	require.False(t, inner.IsNewTransaction())
	require.NoError(t, f.engine.Rollback(f.ctx, inner))
	require.True(t, outer.IsGlobalRollbackOnly())

	err := f.engine.Commit(f.ctx, outer)
	require.ErrorIs(t, err, tx.ErrUnexpectedRollback)
	require.True(t, outer.IsCompleted())
	require.Equal(t, []string{"begin:1", "set-rollback-only:1", "rollback:1", "cleanup:1"}, f.provider.events)
}

func TestParticipationFailureLeavesDecisionToOriginator(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.GlobalRollbackOnParticipationFailure = false })
	outer := f.begin(t, definition(tx.PropagationRequired))

	inner := f.begin(t, definition(tx.PropagationRequired))
	require.NoError(t, f.engine.Rollback(f.ctx, inner))
	require.False(t, outer.IsGlobalRollbackOnly())

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, f.provider.events)
}

func TestLocalRollbackOnlyParticipantMarksGlobal(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.GlobalRollbackOnParticipationFailure = false })
	outer := f.begin(t, definition(tx.PropagationRequired))

	inner := f.begin(t, definition(tx.PropagationRequired))
	inner.SetRollbackOnly()
	require.NoError(t, f.engine.Commit(f.ctx, inner))
	require.True(t, outer.IsGlobalRollbackOnly())

	require.ErrorIs(t, f.engine.Commit(f.ctx, outer), tx.ErrUnexpectedRollback)
}

func TestLocalRollbackOnlyNewTransactionRollsBackQuietly(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))
	f.register(t, f.sync("a"))

	st.SetRollbackOnly()
	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.Equal(t, []string{"begin:1", "rollback:1", "cleanup:1"}, f.provider.events)
	require.Equal(t, []string{"a.beforeCompletion", "a.afterCompletion(rolled_back)"}, f.log)
}

func TestFailEarlyRaisesAtParticipatingBoundary(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.FailEarlyOnGlobalRollbackOnly = true })
	outer := f.begin(t, definition(tx.PropagationRequired))

	first := f.begin(t, definition(tx.PropagationRequired))
	require.NoError(t, f.engine.Rollback(f.ctx, first))

	second := f.begin(t, definition(tx.PropagationRequired))
	require.ErrorIs(t, f.engine.Commit(f.ctx, second), tx.ErrUnexpectedRollback)

	require.ErrorIs(t, f.engine.Commit(f.ctx, outer), tx.ErrUnexpectedRollback)
}

func TestCommitOnGlobalRollbackOnlyWhenProviderAsks(t *testing.T) {
	f := newFixture(t)
	f.provider.commitAnyway = true
	f.provider.unexpectedCommit = true
	outer := f.begin(t, definition(tx.PropagationRequired))
	f.register(t, f.sync("a"))

	inner := f.begin(t, definition(tx.PropagationRequired))
	require.NoError(t, f.engine.Rollback(f.ctx, inner))

	require.ErrorIs(t, f.engine.Commit(f.ctx, outer), tx.ErrUnexpectedRollback)
	require.Equal(t, []string{"begin:1", "set-rollback-only:1", "rollback:1", "cleanup:1"}, f.provider.events)
	require.Contains(t, f.log, "a.afterCompletion(rolled_back)")
}

func TestValidateExistingTransaction(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ValidateExistingTransaction = true })

	outerDef := definition(tx.PropagationRequired).WithReadOnly(true)
	outerDef.Isolation = tx.IsolationRepeatableRead
	outer := f.begin(t, outerDef)

	mismatch := definition(tx.PropagationRequired).WithReadOnly(true)
	mismatch.Isolation = tx.IsolationSerializable
	_, err := f.engine.GetTransaction(f.ctx, mismatch)
	require.ErrorIs(t, err, tx.ErrIllegalState)

	_, err = f.engine.GetTransaction(f.ctx, definition(tx.PropagationRequired))
	require.ErrorIs(t, err, tx.ErrIllegalState)

	ok := definition(tx.PropagationSupports).WithReadOnly(true)
	ok.Isolation = tx.IsolationRepeatableRead
	inner := f.begin(t, ok)
	require.NoError(t, f.engine.Commit(f.ctx, inner))
	require.NoError(t, f.engine.Commit(f.ctx, outer))
}

func TestNotSupportedSuspendsAndRestoresContext(t *testing.T) {
	f := newFixture(t)
	outerDef := definition(tx.PropagationRequired).WithName("outer")
	outerDef.Isolation = tx.IsolationReadCommitted
	outer := f.begin(t, outerDef)
	f.register(t, f.sync("outer"))
	captured := f.reg.State()

	st := f.begin(t, definition(tx.PropagationNotSupported))
	require.Nil(t, st.Handle())
	require.False(t, st.IsNewTransaction())
	require.False(t, f.reg.IsActualTransactionActive())
	require.False(t, f.reg.HasResource(f.provider))
	require.Equal(t, "", f.reg.CurrentTransactionName())

	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.Equal(t, captured, f.reg.State())
	require.True(t, f.reg.HasResource(f.provider))
	require.Len(t, f.reg.Synchronizations(), 1)

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{"begin:1", "suspend:1", "resume:1", "commit:1", "cleanup:1"}, f.provider.events)
}

func TestSupportsWithoutTransactionFollowsSynchronizationPolicy(t *testing.T) {
	always := newFixture(t)
	st := always.begin(t, definition(tx.PropagationSupports))
	require.Nil(t, st.Handle())
	require.True(t, st.IsNewTransaction())
	require.True(t, always.reg.IsSynchronizationActive())
	require.False(t, always.reg.IsActualTransactionActive())
	always.register(t, always.sync("a"))
	require.NoError(t, always.engine.Commit(always.ctx, st))
	require.Equal(t, []string{
		"a.beforeCommit(false)", "a.beforeCompletion", "a.afterCommit", "a.afterCompletion(committed)",
	}, always.log)

	actual := newFixture(t, func(c *Config) { c.Synchronization = SynchronizationOnActualTransaction })
	st = actual.begin(t, definition(tx.PropagationSupports))
	require.False(t, actual.reg.IsSynchronizationActive())
	require.ErrorIs(t, RegisterSynchronization(actual.ctx, actual.sync("a")), tx.ErrIllegalState)
	require.NoError(t, actual.engine.Commit(actual.ctx, st))
}

func TestSynchronizationOnlyScopeSuspendedByRequired(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationSupports))
	f.register(t, f.sync("outer"))

	inner := f.begin(t, definition(tx.PropagationRequired))
	require.True(t, inner.IsNewTransaction())
	require.NotNil(t, inner.SuspendedResources())
	require.NoError(t, f.engine.Commit(f.ctx, inner))

	require.Len(t, f.reg.Synchronizations(), 1)
	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Equal(t, []string{
		"outer.suspend", "outer.resume",
		"outer.beforeCommit(false)", "outer.beforeCompletion", "outer.afterCommit", "outer.afterCompletion(committed)",
	}, f.log)
}

func TestSupportsInsideSynchronizationOnlyScopeJoinsIt(t *testing.T) {
	f := newFixture(t)
	outer := f.begin(t, definition(tx.PropagationSupports))
	f.register(t, f.sync("outer"))

	inner := f.begin(t, definition(tx.PropagationSupports))
	require.False(t, inner.IsNewSynchronization())
	require.NoError(t, f.engine.Commit(f.ctx, inner))
	require.Empty(t, f.log)

	require.NoError(t, f.engine.Commit(f.ctx, outer))
	require.Len(t, f.log, 4)
}

func TestSynchronizationNeverSkipsCallbacks(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Synchronization = SynchronizationNever })

	st := f.begin(t, definition(tx.PropagationRequired))
	require.False(t, st.IsNewSynchronization())
	require.False(t, f.reg.IsSynchronizationActive())
	require.NoError(t, f.engine.Commit(f.ctx, st))
}

func TestCommitFailureReportsUnknownCompletion(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))
	f.register(t, f.sync("a"))

	f.provider.failCommit = errBoom
	err := f.engine.Commit(f.ctx, st)
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, err, tx.ErrResourceFailure)
	require.Equal(t, []string{"begin:1", "commit-failed:1", "cleanup:1"}, f.provider.events)
	require.Equal(t, "a.afterCompletion(unknown)", f.log[len(f.log)-1])
}

func TestCommitFailureWithCompensatingRollback(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RollbackOnCommitFailure = true })
	st := f.begin(t, definition(tx.PropagationRequired))
	f.register(t, f.sync("a"))

	f.provider.failCommit = errBoom
	require.ErrorIs(t, f.engine.Commit(f.ctx, st), errBoom)
	require.Equal(t, []string{"begin:1", "commit-failed:1", "rollback:1", "cleanup:1"}, f.provider.events)
	require.Equal(t, "a.afterCompletion(rolled_back)", f.log[len(f.log)-1])
}

func TestCommitFailureWinsOverRollbackFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RollbackOnCommitFailure = true })
	st := f.begin(t, definition(tx.PropagationRequired))

	rollbackErr := context.DeadlineExceeded
	f.provider.failCommit = errBoom
	f.provider.failRollback = rollbackErr
	err := f.engine.Commit(f.ctx, st)
	require.ErrorIs(t, err, errBoom)
	require.NotErrorIs(t, err, rollbackErr)
	require.True(t, st.IsCompleted())
}

func TestBeforeCommitFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))
	s := f.sync("a")
	s.beforeCommitErr = errBoom
	f.register(t, s)

	err := f.engine.Commit(f.ctx, st)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, []string{"begin:1", "rollback:1", "cleanup:1"}, f.provider.events)
	require.Equal(t, []string{
		"a.beforeCommit(false)", "a.beforeCompletion", "a.afterCompletion(rolled_back)",
	}, f.log)
}

func TestAfterCommitFailureStillCompletes(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))
	s := f.sync("a")
	s.afterCommitErr = errBoom
	f.register(t, s)

	require.ErrorIs(t, f.engine.Commit(f.ctx, st), errBoom)
	require.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, f.provider.events)
	require.Equal(t, "a.afterCompletion(committed)", f.log[len(f.log)-1])
	require.True(t, st.IsCompleted())
}

func TestSynchronizationsRunInOrder(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))

	late := f.sync("late")
	late.order = 10
	early := f.sync("early")
	early.order = -1
	f.register(t, late)
	f.register(t, f.sync("plain"))
	f.register(t, early)

	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.Equal(t, []string{
		"early.beforeCommit(false)", "plain.beforeCommit(false)", "late.beforeCommit(false)",
	}, f.log[:3])
}

func TestUnorderedSynchronizationsRunLast(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))

	late := f.sync("late")
	late.order = 10
	unordered := &tx.SynchronizationFuncs{
		OnBeforeCommit: func(context.Context, bool) error {
			f.log = append(f.log, "unordered.beforeCommit(false)")
			return nil
		},
	}
	f.register(t, unordered)
	f.register(t, late)

	require.NoError(t, f.engine.Commit(f.ctx, st))
	require.Equal(t, []string{"late.beforeCommit(false)", "unordered.beforeCommit(false)"}, f.log[:2])
}

func TestRollbackFailureReportsResourceFailure(t *testing.T) {
	f := newFixture(t)
	st := f.begin(t, definition(tx.PropagationRequired))
	f.register(t, f.sync("a"))

	f.provider.failRollback = errBoom
	err := f.engine.Rollback(f.ctx, st)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, tx.KindResourceFailure, tx.KindOf(err))
	var se *errs.StackError
	require.ErrorAs(t, err, &se)
	require.NotEmpty(t, se.Stack())
	require.Equal(t, "a.afterCompletion(unknown)", f.log[len(f.log)-1])
	require.True(t, st.IsCompleted())
}

func TestResumeFailureIsJoinedWithScopeError(t *testing.T) {
	f := newFixture(t)
	f.begin(t, definition(tx.PropagationRequired))
	inner := f.begin(t, definition(tx.PropagationRequiresNew))

	f.provider.failResume = errBoom
	f.provider.failRollback = context.Canceled
	err := f.engine.Rollback(f.ctx, inner)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, errBoom)
	require.True(t, inner.IsCompleted())
}

func TestDefaultTimeoutIsPassedToProvider(t *testing.T) {
	var seen tx.Definition
	p := &timeoutProvider{fakeProvider: newFakeProvider(), seen: &seen}
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 30
	e, err := New(p, cfg)
	require.NoError(t, err)

	ctx, _ := tx.WithRegistry(context.Background())
	st, err := e.GetTransaction(ctx, definition(tx.PropagationRequired))
	require.NoError(t, err)
	require.Equal(t, 30, seen.Timeout)
	require.Equal(t, tx.TimeoutDefault, st.Definition().Timeout)
	require.NoError(t, e.Commit(ctx, st))
}

type timeoutProvider struct {
	*fakeProvider
	seen *tx.Definition
}

func (p *timeoutProvider) Begin(ctx context.Context, h tx.Handle, def tx.Definition) error {
	*p.seen = def
	return p.fakeProvider.Begin(ctx, h, def)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.DefaultTimeout = -5
	_, err = New(newFakeProvider(), cfg)
	require.ErrorIs(t, err, tx.ErrInvalidTimeout)
}

// registrarProvider takes over after-completion callbacks of participating scopes.
type registrarProvider struct {
	*fakeProvider
	handedOver []tx.Synchronization
	fail       error
}

func (p *registrarProvider) RegisterAfterCompletionWithExistingTransaction(_ context.Context, _ tx.Handle, synchronizations []tx.Synchronization) error {
	if p.fail != nil {
		return p.fail
	}
	p.handedOver = append(p.handedOver, synchronizations...)
	return nil
}

func TestParticipatingScopeHandsAfterCompletionToProvider(t *testing.T) {
	for _, fail := range []error{nil, errBoom} {
		p := &registrarProvider{fakeProvider: newFakeProvider(), fail: fail}

		outerCfg := DefaultConfig()
		outerCfg.Synchronization = SynchronizationNever
		outerEngine, err := New(p, outerCfg)
		require.NoError(t, err)
		innerEngine, err := New(p, DefaultConfig())
		require.NoError(t, err)

		ctx, reg := tx.WithRegistry(context.Background())
		outer, err := outerEngine.GetTransaction(ctx, definition(tx.PropagationRequired))
		require.NoError(t, err)
		require.False(t, reg.IsSynchronizationActive())

		inner, err := innerEngine.GetTransaction(ctx, definition(tx.PropagationRequired))
		require.NoError(t, err)
		require.True(t, inner.IsNewSynchronization())

		var log []string
		require.NoError(t, reg.RegisterSynchronization(&recordingSync{name: "a", log: &log}))
		require.NoError(t, innerEngine.Commit(ctx, inner))

		if fail == nil {
			require.Len(t, p.handedOver, 1)
			require.Equal(t, []string{"a.beforeCommit(false)", "a.beforeCompletion", "a.afterCommit"}, log)
		} else {
			require.Empty(t, p.handedOver)
			require.Equal(t, "a.afterCompletion(unknown)", log[len(log)-1])
		}
		require.False(t, reg.IsSynchronizationActive())
		require.NoError(t, outerEngine.Commit(ctx, outer))
	}
}

// preparingProvider fails PrepareForCommit, like an expired deadline.
type preparingProvider struct {
	*fakeProvider
}

func (p *preparingProvider) PrepareForCommit(context.Context, *tx.Status) error {
	return tx.Errorf(tx.KindResourceFailure, "transaction timed out")
}

func TestPrepareForCommitFailureRollsBack(t *testing.T) {
	p := &preparingProvider{fakeProvider: newFakeProvider()}
	e, err := New(p, DefaultConfig())
	require.NoError(t, err)

	ctx, reg := tx.WithRegistry(context.Background())
	st, err := e.GetTransaction(ctx, definition(tx.PropagationRequired))
	require.NoError(t, err)

	var log []string
	require.NoError(t, reg.RegisterSynchronization(&recordingSync{name: "a", log: &log}))

	err = e.Commit(ctx, st)
	require.ErrorIs(t, err, tx.ErrResourceFailure)
	require.Equal(t, []string{"begin:1", "rollback:1", "cleanup:1"}, p.events)
	require.Equal(t, []string{"a.beforeCompletion", "a.afterCompletion(rolled_back)"}, log)
	require.True(t, st.IsCompleted())
}
