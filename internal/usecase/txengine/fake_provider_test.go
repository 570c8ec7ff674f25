package txengine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"txflow/internal/domain/tx"
	"txflow/internal/ports"
)

// fakeResource is one physical transaction.
type fakeResource struct {
	id           int
	rollbackOnly bool
	depth        int
	nextSP       int
	savepoints   []int
	// marker as it was when each savepoint was taken
	markAt map[int]bool
}

type fakeHandle struct {
	p      *fakeProvider
	res    *fakeResource
	nested bool
}

var (
	_ tx.SavepointManager     = (*fakeHandle)(nil)
	_ tx.RollbackOnlyReporter = (*fakeHandle)(nil)
)

func (h *fakeHandle) IsRollbackOnly() bool {
	return h.res != nil && h.res.rollbackOnly
}

func (h *fakeHandle) CreateSavepoint(_ context.Context) (tx.Savepoint, error) {
	if h.p.failSavepoint != nil {
		return nil, h.p.failSavepoint
	}
	h.res.nextSP++
	h.res.savepoints = append(h.res.savepoints, h.res.nextSP)
	if h.res.markAt == nil {
		h.res.markAt = map[int]bool{}
	}
	h.res.markAt[h.res.nextSP] = h.res.rollbackOnly
	h.p.record("savepoint:%d.%d", h.res.id, h.res.nextSP)
	return h.res.nextSP, nil
}

func (h *fakeHandle) RollbackToSavepoint(_ context.Context, sp tx.Savepoint) error {
	h.p.record("rollback-to:%d.%d", h.res.id, sp.(int))
	h.res.rollbackOnly = h.res.markAt[sp.(int)]
	return nil
}

func (h *fakeHandle) ReleaseSavepoint(_ context.Context, sp tx.Savepoint) error {
	h.p.record("release:%d.%d", h.res.id, sp.(int))
	for i, held := range h.res.savepoints {
		if held == sp.(int) {
			h.res.savepoints = append(h.res.savepoints[:i], h.res.savepoints[i+1:]...)
			break
		}
	}
	return nil
}

// fakeProvider records every physical operation. With savepoints=false it
// behaves like a provider that nests begin/commit on one resource.
type fakeProvider struct {
	savepoints bool
	nextID     int
	events     []string

	failBegin        error
	failCommit       error
	failRollback     error
	failSuspend      error
	failResume       error
	failSavepoint    error
	commitAnyway     bool
	unexpectedCommit bool
}

var _ ports.ResourceProvider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{savepoints: true}
}

func (p *fakeProvider) record(format string, args ...any) {
	p.events = append(p.events, fmt.Sprintf(format, args...))
}

func (p *fakeProvider) ObtainTransaction(ctx context.Context) (tx.Handle, error) {
	h := &fakeHandle{p: p}
	if reg := tx.RegistryFrom(ctx); reg != nil {
		if res, ok := reg.Resource(p).(*fakeResource); ok {
			h.res = res
		}
	}
	return h, nil
}

func (p *fakeProvider) IsExistingTransaction(h tx.Handle) bool {
	return h.(*fakeHandle).res != nil
}

func (p *fakeProvider) Begin(ctx context.Context, h tx.Handle, def tx.Definition) error {
	if p.failBegin != nil {
		return p.failBegin
	}
	fh := h.(*fakeHandle)
	if fh.res != nil {
		fh.res.depth++
		fh.nested = true
		p.record("begin-nested:%d", fh.res.id)
		return nil
	}
	p.nextID++
	fh.res = &fakeResource{id: p.nextID}
	p.record("begin:%d", fh.res.id)
	return tx.RegistryFrom(ctx).BindResource(p, fh.res)
}

func (p *fakeProvider) Suspend(ctx context.Context, h tx.Handle) (tx.SuspendedHandle, error) {
	if p.failSuspend != nil {
		return nil, p.failSuspend
	}
	fh := h.(*fakeHandle)
	fh.res = nil
	res, err := tx.RegistryFrom(ctx).UnbindResource(p)
	if err != nil {
		return nil, err
	}
	p.record("suspend:%d", res.(*fakeResource).id)
	return res, nil
}

func (p *fakeProvider) Resume(ctx context.Context, _ tx.Handle, suspended tx.SuspendedHandle) error {
	if p.failResume != nil {
		return p.failResume
	}
	res := suspended.(*fakeResource)
	p.record("resume:%d", res.id)
	return tx.RegistryFrom(ctx).BindResource(p, res)
}

func (p *fakeProvider) Commit(_ context.Context, st *tx.Status) error {
	fh := st.Handle().(*fakeHandle)
	if p.failCommit != nil {
		p.record("commit-failed:%d", fh.res.id)
		return p.failCommit
	}
	if fh.nested {
		fh.res.depth--
		p.record("commit-nested:%d", fh.res.id)
		return nil
	}
	if p.unexpectedCommit && fh.res.rollbackOnly {
		p.record("rollback:%d", fh.res.id)
		return tx.Errorf(tx.KindUnexpectedRollback, "resource rolled back on commit")
	}
	p.record("commit:%d", fh.res.id)
	return nil
}

func (p *fakeProvider) Rollback(_ context.Context, st *tx.Status) error {
	fh := st.Handle().(*fakeHandle)
	if p.failRollback != nil {
		p.record("rollback-failed:%d", fh.res.id)
		return p.failRollback
	}
	if fh.nested {
		fh.res.depth--
		p.record("rollback-nested:%d", fh.res.id)
		return nil
	}
	p.record("rollback:%d", fh.res.id)
	return nil
}

func (p *fakeProvider) SetRollbackOnly(_ context.Context, st *tx.Status) error {
	fh := st.Handle().(*fakeHandle)
	fh.res.rollbackOnly = true
	p.record("set-rollback-only:%d", fh.res.id)
	return nil
}

func (p *fakeProvider) UseSavepointForNested() bool { return p.savepoints }

func (p *fakeProvider) Cleanup(ctx context.Context, h tx.Handle) {
	fh := h.(*fakeHandle)
	if fh.nested {
		p.record("cleanup-nested:%d", fh.res.id)
		return
	}
	if reg := tx.RegistryFrom(ctx); reg != nil && reg.Resource(p) == fh.res {
		_, _ = reg.UnbindResource(p)
	}
	p.record("cleanup:%d", fh.res.id)
}

func (p *fakeProvider) ShouldCommitOnGlobalRollbackOnly() bool { return p.commitAnyway }

// recordingSync appends "<name>.<callback>" for every callback it receives.
type recordingSync struct {
	name  string
	log   *[]string
	order int

	beforeCommitErr error
	afterCommitErr  error
}

func (s *recordingSync) add(event string) {
	*s.log = append(*s.log, s.name+"."+event)
}

func (s *recordingSync) Order() int                  { return s.order }
func (s *recordingSync) Suspend(context.Context)     { s.add("suspend") }
func (s *recordingSync) Resume(context.Context)      { s.add("resume") }
func (s *recordingSync) BeforeCompletion(context.Context) error {
	s.add("beforeCompletion")
	return nil
}

func (s *recordingSync) BeforeCommit(_ context.Context, readOnly bool) error {
	s.add(fmt.Sprintf("beforeCommit(%v)", readOnly))
	return s.beforeCommitErr
}

func (s *recordingSync) AfterCommit(context.Context) error {
	s.add("afterCommit")
	return s.afterCommitErr
}

func (s *recordingSync) AfterCompletion(_ context.Context, status tx.CompletionStatus) error {
	s.add("afterCompletion(" + status.String() + ")")
	return nil
}

type fixture struct {
	provider *fakeProvider
	engine   *Engine
	ctx      context.Context
	reg      *tx.Registry
	log      []string
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{provider: newFakeProvider()}
	engine, err := New(f.provider, cfg)
	require.NoError(t, err)
	f.engine = engine
	f.ctx, f.reg = tx.WithRegistry(context.Background())
	return f
}

func (f *fixture) sync(name string) *recordingSync {
	return &recordingSync{name: name, log: &f.log}
}

func (f *fixture) begin(t *testing.T, def tx.Definition) *tx.Status {
	t.Helper()
	st, err := f.engine.GetTransaction(f.ctx, def)
	require.NoError(t, err)
	return st
}

func (f *fixture) register(t *testing.T, s tx.Synchronization) {
	t.Helper()
	require.NoError(t, RegisterSynchronization(f.ctx, s))
}

func definition(p tx.Propagation) tx.Definition {
	return tx.DefaultDefinition().WithPropagation(p)
}

var errBoom = errors.New("boom")
