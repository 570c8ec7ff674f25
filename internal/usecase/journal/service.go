package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
	"txflow/internal/ports"
)

const (
	cacheLastEntryKey  = "journal:last_entry"
	cacheLastImportKey = "journal:last_import"
)

// ErrInvalidEntry marks entries rejected by validation.
var ErrInvalidEntry = errors.New("invalid journal entry")

type Service struct {
	repo  ports.JournalRepository
	uow   ports.UnitOfWork
	cache ports.Cache
	now   func() time.Time
}

// NewService wires journal usecases. cache may be nil.
func NewService(repo ports.JournalRepository, uow ports.UnitOfWork, cache ports.Cache) *Service {
	return &Service{
		repo:  repo,
		uow:   uow,
		cache: cache,
		now:   time.Now,
	}
}

type EntryInput struct {
	Account   string `toml:"account" yaml:"account"`
	Reference string `toml:"reference" yaml:"reference"`
	Amount    int64  `toml:"amount" yaml:"amount"`
	Memo      string `toml:"memo" yaml:"memo"`
}

func (s *Service) ready(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return errors.New("journal repository is required")
	}
	if s.uow == nil {
		return errors.New("journal unit of work is required")
	}
	return nil
}

func normalizeEntry(in EntryInput) (EntryInput, error) {
	out := EntryInput{
		Account:   strings.TrimSpace(in.Account),
		Reference: strings.TrimSpace(in.Reference),
		Amount:    in.Amount,
		Memo:      strings.TrimSpace(in.Memo),
	}
	if out.Account == "" {
		return EntryInput{}, fmt.Errorf("%w: account is required", ErrInvalidEntry)
	}
	if out.Reference == "" {
		return EntryInput{}, fmt.Errorf("%w: reference is required", ErrInvalidEntry)
	}
	if out.Amount == 0 {
		return EntryInput{}, fmt.Errorf("%w: amount must not be zero", ErrInvalidEntry)
	}
	return out, nil
}

func (s *Service) nowUTCString() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// setCacheInTx writes through the transaction in ctx, so the key follows its outcome.
func (s *Service) setCacheInTx(ctx context.Context, key string, value string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		return errs.Wrapf(err, "set cache %s", key)
	}
	return nil
}

// LastEntryRef returns the reference of the last recorded entry, if cached.
func (s *Service) LastEntryRef(ctx context.Context) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, found, err := s.cache.Get(ctx, cacheLastEntryKey)
	if err != nil {
		logging.Warn(ctx, "read journal cache failed", slog.Any("err", errs.Loggable(err)))
		return "", false
	}
	return value, found
}
