package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"txflow/internal/bootstrap/config"
	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
	"txflow/internal/infrastructure/persistence/sqlite/model"
)

// App carries the loaded configuration and the journal database handle.
type App struct {
	Config config.Config
	DB     *gorm.DB
}

// journalTables lists every table the journal, its audit trail and the kv cache need.
func journalTables() []any {
	return []any{
		&model.Entry{},
		&model.Audit{},
		&model.KV{},
	}
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	tables := journalTables()
	if err := a.DB.WithContext(ctx).AutoMigrate(tables...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed", slog.Int("tables", len(tables)))
	return nil
}

// SchemaReady reports whether init-db already ran against the configured database.
func (a *App) SchemaReady(ctx context.Context) bool {
	migrator := a.DB.WithContext(ctx).Migrator()
	for _, table := range journalTables() {
		if !migrator.HasTable(table) {
			return false
		}
	}
	return true
}
