package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"txflow/internal/errs"
	"txflow/internal/infrastructure/persistence/sqlite/model"
	"txflow/internal/ports"
)

type JournalRepository struct {
	db *gorm.DB
}

var _ ports.JournalRepository = (*JournalRepository)(nil)

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// gormSession is implemented by transaction handles that expose a gorm session.
type gormSession interface {
	DB() *gorm.DB
}

func (r *JournalRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	return DBFromContext(ctx, r.db)
}

// DBFromContext returns the session of the transaction carried by ctx, or
// fallback when ctx carries none.
func DBFromContext(ctx context.Context, fallback *gorm.DB) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return fallback.WithContext(ctx), nil
	}

	switch t := tx.(type) {
	case gormSession:
		if db := t.DB(); db != nil {
			return db.WithContext(ctx), nil
		}
	case *gorm.DB:
		if t != nil {
			return t.WithContext(ctx), nil
		}
	}
	return nil, fmt.Errorf("invalid tx in context: %T", tx)
}

func (r *JournalRepository) CreateEntry(ctx context.Context, input ports.JournalEntryCreate) (ports.JournalEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.JournalEntry{}, err
	}

	var existing int64
	if err := db.Model(&model.Entry{}).Where("reference = ?", input.Reference).Count(&existing).Error; err != nil {
		return ports.JournalEntry{}, errs.Wrap(err, "check entry reference")
	}
	if existing > 0 {
		return ports.JournalEntry{}, fmt.Errorf("%w: %s", ports.ErrDuplicateReference, input.Reference)
	}

	row := model.Entry{
		BatchID:   input.BatchID,
		Account:   input.Account,
		Reference: input.Reference,
		Amount:    input.Amount,
		Memo:      input.Memo,
		CreatedAt: input.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		// Another connection inserted the same reference after the check above.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.JournalEntry{}, fmt.Errorf("%w: %s", ports.ErrDuplicateReference, input.Reference)
		}
		return ports.JournalEntry{}, errs.Wrap(err, "insert entry")
	}
	return mapEntry(row), nil
}

func (r *JournalRepository) GetEntry(ctx context.Context, entryID uint64) (ports.JournalEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.JournalEntry{}, err
	}

	var row model.Entry
	if err := db.Where("entry_id = ?", entryID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.JournalEntry{}, ports.ErrEntryNotFound
		}
		return ports.JournalEntry{}, errs.Wrap(err, "query entry")
	}
	return mapEntry(row), nil
}

func (r *JournalRepository) ListEntries(ctx context.Context, filter ports.JournalEntryFilter) ([]ports.JournalEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Entry{})
	if account := strings.TrimSpace(filter.Account); account != "" {
		query = query.Where("account = ?", account)
	}
	if batchID := strings.TrimSpace(filter.BatchID); batchID != "" {
		query = query.Where("batch_id = ?", batchID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []model.Entry
	if err := query.Order("entry_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query entries")
	}

	items := make([]ports.JournalEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapEntry(row))
	}
	return items, nil
}

func (r *JournalRepository) AppendAudit(ctx context.Context, input ports.JournalAuditCreate) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.Audit{
		BatchID:   input.BatchID,
		Action:    input.Action,
		Detail:    input.Detail,
		CreatedAt: input.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert audit")
	}
	return nil
}

func (r *JournalRepository) ListAudit(ctx context.Context, batchID string) ([]ports.JournalAudit, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Audit{})
	if trimmed := strings.TrimSpace(batchID); trimmed != "" {
		query = query.Where("batch_id = ?", trimmed)
	}

	var rows []model.Audit
	if err := query.Order("audit_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query audit")
	}

	items := make([]ports.JournalAudit, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.JournalAudit{
			AuditID:   row.AuditID,
			BatchID:   row.BatchID,
			Action:    row.Action,
			Detail:    row.Detail,
			CreatedAt: row.CreatedAt,
		})
	}
	return items, nil
}

func mapEntry(row model.Entry) ports.JournalEntry {
	return ports.JournalEntry{
		EntryID:   row.EntryID,
		BatchID:   row.BatchID,
		Account:   row.Account,
		Reference: row.Reference,
		Amount:    row.Amount,
		Memo:      row.Memo,
		CreatedAt: row.CreatedAt,
	}
}
