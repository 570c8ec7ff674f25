package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"txflow/internal/errs"
	"txflow/internal/infrastructure/persistence/sqlite/model"
	"txflow/internal/infrastructure/persistence/sqlite/repository"
	"txflow/internal/ports"
)

// SQLiteCache stores keys in the kv table. Writes made with a context that
// carries a transaction join it and disappear with its rollback.
type SQLiteCache struct {
	db *gorm.DB
}

var _ ports.Cache = (*SQLiteCache)(nil)

func NewSQLiteCache(db *gorm.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

// keyed validates the call and resolves the session the key operation runs on.
func (c *SQLiteCache) keyed(ctx context.Context, key string, op string) (*gorm.DB, string, error) {
	if ctx == nil {
		return nil, "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", errs.Wrapf(err, "cache %s", op)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, "", errors.New("key is required")
	}
	db, err := repository.DBFromContext(ctx, c.db)
	if err != nil {
		return nil, "", errs.Wrapf(err, "resolve session for cache %s", op)
	}
	return db, key, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	db, key, err := c.keyed(ctx, key, "get")
	if err != nil {
		return "", false, err
	}

	var row model.KV
	err = db.Where("key = ?", key).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	case err != nil:
		return "", false, errs.Wrapf(err, "get cache key %s", key)
	}
	return row.Value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value string) error {
	db, key, err := c.keyed(ctx, key, "set")
	if err != nil {
		return err
	}

	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}
	if err := db.Clauses(upsert).Create(&model.KV{Key: key, Value: value, UpdatedAt: stamp}).Error; err != nil {
		return errs.Wrapf(err, "set cache key %s", key)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	db, key, err := c.keyed(ctx, key, "delete")
	if err != nil {
		return err
	}
	if err := db.Where("key = ?", key).Delete(&model.KV{}).Error; err != nil {
		return errs.Wrapf(err, "delete cache key %s", key)
	}
	return nil
}
