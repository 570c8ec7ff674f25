package ports

import (
	"context"
	"errors"
)

var (
	ErrEntryNotFound      = errors.New("journal entry not found")
	ErrDuplicateReference = errors.New("journal entry reference already exists")
)

type JournalEntry struct {
	EntryID   uint64
	BatchID   string
	Account   string
	Reference string
	Amount    int64
	Memo      string
	CreatedAt string
}

type JournalEntryCreate struct {
	BatchID   string
	Account   string
	Reference string
	Amount    int64
	Memo      string
	CreatedAt string
}

type JournalEntryFilter struct {
	Account string
	BatchID string
	Limit   int
}

type JournalAudit struct {
	AuditID   uint64
	BatchID   string
	Action    string
	Detail    string
	CreatedAt string
}

type JournalAuditCreate struct {
	BatchID   string
	Action    string
	Detail    string
	CreatedAt string
}

// JournalRepository joins the transaction carried by ctx (see TxFromContext)
// and uses its own connection otherwise.
type JournalRepository interface {
	CreateEntry(ctx context.Context, input JournalEntryCreate) (JournalEntry, error)
	GetEntry(ctx context.Context, entryID uint64) (JournalEntry, error)
	ListEntries(ctx context.Context, filter JournalEntryFilter) ([]JournalEntry, error)
	AppendAudit(ctx context.Context, input JournalAuditCreate) error
	ListAudit(ctx context.Context, batchID string) ([]JournalAudit, error)
}
