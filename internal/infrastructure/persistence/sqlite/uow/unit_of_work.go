package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/domain/tx"
	"txflow/internal/errs"
	"txflow/internal/ports"
)

// Provider implements ports.ResourceProvider with gorm. The physical
// transaction of a scope is bound in the tx.Registry under the provider itself.
type Provider struct {
	db *gorm.DB
}

var (
	_ ports.ResourceProvider = (*Provider)(nil)
	_ ports.CommitPreparer   = (*Provider)(nil)
)

func NewProvider(db *gorm.DB) *Provider {
	return &Provider{db: db}
}

// txHolder is one physical gorm transaction shared by every scope that joins it.
type txHolder struct {
	tx           *gorm.DB
	ctx          context.Context
	cancel       context.CancelFunc
	rollbackOnly bool
	savepoints   int
}

// Handle is the per-scope view of the bound transaction.
type Handle struct {
	holder *txHolder
}

var (
	_ tx.SavepointManager     = (*Handle)(nil)
	_ tx.RollbackOnlyReporter = (*Handle)(nil)
)

// DB returns the transactional session, or nil before Begin.
func (h *Handle) DB() *gorm.DB {
	if h == nil || h.holder == nil {
		return nil
	}
	return h.holder.tx
}

func (h *Handle) IsRollbackOnly() bool {
	return h != nil && h.holder != nil && h.holder.rollbackOnly
}

// savepoint remembers the rollback-only marker as it was when the savepoint was taken.
type savepoint struct {
	name         string
	rollbackOnly bool
}

func (h *Handle) CreateSavepoint(ctx context.Context) (tx.Savepoint, error) {
	if h.holder == nil {
		return nil, tx.Errorf(tx.KindIllegalState, "cannot create savepoint without transaction")
	}
	h.holder.savepoints++
	sp := savepoint{
		name:         fmt.Sprintf("SAVEPOINT_%d", h.holder.savepoints),
		rollbackOnly: h.holder.rollbackOnly,
	}
	if err := h.holder.tx.WithContext(ctx).SavePoint(sp.name).Error; err != nil {
		return nil, errs.Wrapf(err, "create savepoint %s", sp.name)
	}
	return sp, nil
}

// RollbackToSavepoint restores the rollback-only marker recorded by the
// savepoint. Markers set by scopes that ran before it survive.
func (h *Handle) RollbackToSavepoint(ctx context.Context, sp tx.Savepoint) error {
	saved, err := savepointOf(sp)
	if err != nil {
		return err
	}
	if err := h.holder.tx.WithContext(ctx).RollbackTo(saved.name).Error; err != nil {
		return errs.Wrapf(err, "roll back to savepoint %s", saved.name)
	}
	h.holder.rollbackOnly = saved.rollbackOnly
	return nil
}

func (h *Handle) ReleaseSavepoint(ctx context.Context, sp tx.Savepoint) error {
	saved, err := savepointOf(sp)
	if err != nil {
		return err
	}
	if err := h.holder.tx.WithContext(ctx).Exec("RELEASE SAVEPOINT " + saved.name).Error; err != nil {
		return errs.Wrapf(err, "release savepoint %s", saved.name)
	}
	return nil
}

func savepointOf(sp tx.Savepoint) (savepoint, error) {
	saved, ok := sp.(savepoint)
	if !ok || saved.name == "" {
		return savepoint{}, fmt.Errorf("invalid savepoint %T", sp)
	}
	return saved, nil
}

func (p *Provider) ObtainTransaction(ctx context.Context) (tx.Handle, error) {
	h := &Handle{}
	if reg := tx.RegistryFrom(ctx); reg != nil {
		if holder, ok := reg.Resource(p).(*txHolder); ok {
			h.holder = holder
		}
	}
	return h, nil
}

func (p *Provider) IsExistingTransaction(h tx.Handle) bool {
	gh, ok := h.(*Handle)
	return ok && gh.holder != nil
}

func (p *Provider) Begin(ctx context.Context, h tx.Handle, def tx.Definition) error {
	gh, err := handleOf(h)
	if err != nil {
		return err
	}
	reg := tx.RegistryFrom(ctx)
	if reg == nil {
		return tx.Errorf(tx.KindIllegalState, "no transaction registry bound to context")
	}

	txCtx, cancel := context.WithCancel(ctx)
	if def.Timeout > 0 {
		cancel()
		txCtx, cancel = context.WithTimeout(ctx, time.Duration(def.Timeout)*time.Second)
	}

	session := p.db.WithContext(txCtx)
	var begun *gorm.DB
	if opts := txOptions(def); opts != nil {
		begun = session.Begin(opts)
	} else {
		begun = session.Begin()
	}
	if begun.Error != nil {
		cancel()
		return errs.Wrap(begun.Error, "begin gorm transaction")
	}

	holder := &txHolder{tx: begun, ctx: txCtx, cancel: cancel}
	if err := reg.BindResource(p, holder); err != nil {
		_ = begun.Rollback().Error
		cancel()
		return err
	}
	gh.holder = holder

	logging.Debug(ctx, "gorm transaction begun",
		slog.String("component", "sqlite.uow"),
		slog.String("definition", def.String()),
	)
	return nil
}

func txOptions(def tx.Definition) *sql.TxOptions {
	level := sql.LevelDefault
	switch def.Isolation {
	case tx.IsolationReadUncommitted:
		level = sql.LevelReadUncommitted
	case tx.IsolationReadCommitted:
		level = sql.LevelReadCommitted
	case tx.IsolationRepeatableRead:
		level = sql.LevelRepeatableRead
	case tx.IsolationSerializable:
		level = sql.LevelSerializable
	}
	if level == sql.LevelDefault && !def.ReadOnly {
		return nil
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: def.ReadOnly}
}

func (p *Provider) Suspend(ctx context.Context, h tx.Handle) (tx.SuspendedHandle, error) {
	gh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	reg := tx.RegistryFrom(ctx)
	if reg == nil {
		return nil, tx.Errorf(tx.KindIllegalState, "no transaction registry bound to context")
	}
	suspended, err := reg.UnbindResource(p)
	if err != nil {
		return nil, err
	}
	gh.holder = nil
	return suspended, nil
}

func (p *Provider) Resume(ctx context.Context, _ tx.Handle, suspended tx.SuspendedHandle) error {
	holder, ok := suspended.(*txHolder)
	if !ok {
		return fmt.Errorf("invalid suspended transaction %T", suspended)
	}
	reg := tx.RegistryFrom(ctx)
	if reg == nil {
		return tx.Errorf(tx.KindIllegalState, "no transaction registry bound to context")
	}
	return reg.BindResource(p, holder)
}

// PrepareForCommit fails once the transaction's timeout has expired.
func (p *Provider) PrepareForCommit(_ context.Context, st *tx.Status) error {
	gh, err := handleOf(st.Handle())
	if err != nil || gh.holder == nil || !st.OwnsTransaction() {
		return nil
	}
	if errors.Is(gh.holder.ctx.Err(), context.DeadlineExceeded) {
		return tx.Errorf(tx.KindResourceFailure, "transaction timed out before commit")
	}
	return nil
}

func (p *Provider) Commit(_ context.Context, st *tx.Status) error {
	gh, err := handleOf(st.Handle())
	if err != nil {
		return err
	}
	if err := gh.holder.tx.Commit().Error; err != nil {
		return errs.Wrap(err, "commit gorm transaction")
	}
	return nil
}

func (p *Provider) Rollback(_ context.Context, st *tx.Status) error {
	gh, err := handleOf(st.Handle())
	if err != nil {
		return err
	}
	if err := gh.holder.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errs.Wrap(err, "roll back gorm transaction")
	}
	return nil
}

func (p *Provider) SetRollbackOnly(_ context.Context, st *tx.Status) error {
	gh, err := handleOf(st.Handle())
	if err != nil {
		return err
	}
	gh.holder.rollbackOnly = true
	return nil
}

func (p *Provider) UseSavepointForNested() bool { return true }

// Cleanup unbinds the transaction if it is still bound and releases its context.
func (p *Provider) Cleanup(ctx context.Context, h tx.Handle) {
	gh, err := handleOf(h)
	if err != nil || gh.holder == nil {
		return
	}
	if reg := tx.RegistryFrom(ctx); reg != nil && reg.Resource(p) == gh.holder {
		_, _ = reg.UnbindResource(p)
	}
	gh.holder.cancel()
}

func handleOf(h tx.Handle) (*Handle, error) {
	gh, ok := h.(*Handle)
	if !ok || gh == nil {
		return nil, fmt.Errorf("invalid transaction handle %T", h)
	}
	return gh, nil
}
