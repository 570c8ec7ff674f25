package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"txflow/internal/bootstrap/config"
	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
)

// Pragmas applied to every file-backed journal database unless the DSN sets them.
// REQUIRES_NEW scopes write on a second connection while the outer one is
// suspended, so writers must wait for the lock instead of failing with SQLITE_BUSY.
var defaultPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

func Open(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.database"))

	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		dsn, err := NormalizeSQLiteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := ensureSQLiteDirectory(logCtx, dsn); err != nil {
			return nil, errs.Wrap(err, "ensure sqlite directory")
		}

		db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, errs.Wrap(err, "open sqlite db")
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errs.Wrap(err, "get sql db")
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}

		logging.Info(logCtx, "database opened",
			slog.String("driver", "sqlite"),
			slog.String("dsn", dsn),
			slog.Int("max_open_conns", cfg.MaxOpenConns),
		)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NormalizeSQLiteDSN appends the default pragmas the DSN does not set itself.
// In-memory databases are rejected: each pooled connection would see its own
// empty database, and suspended transactions need more than one connection.
func NormalizeSQLiteDSN(dsn string) (string, error) {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" {
		return "", errors.New("database.dsn is required")
	}
	if strings.Contains(candidate, ":memory:") || strings.Contains(candidate, "mode=memory") {
		return "", fmt.Errorf("in-memory sqlite database %q is not supported, use a file path", candidate)
	}

	lower := strings.ToLower(candidate)
	var missing []string
	for _, pragma := range defaultPragmas {
		name := pragma[:strings.Index(pragma, "(")]
		if !strings.Contains(lower, "_pragma="+name) {
			missing = append(missing, "_pragma="+pragma)
		}
	}
	if len(missing) == 0 {
		return candidate, nil
	}

	sep := "?"
	if strings.Contains(candidate, "?") {
		sep = "&"
	}
	return candidate + sep + strings.Join(missing, "&"), nil
}

func ensureSQLiteDirectory(ctx context.Context, dsn string) error {
	candidate := strings.TrimPrefix(strings.TrimSpace(dsn), "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create sqlite directory %q", dir)
	}

	logging.Debug(ctx, "sqlite directory ensured", slog.String("dir", dir))
	return nil
}
