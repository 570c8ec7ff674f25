package ports

import "context"

// Cache keeps small journal markers such as the last recorded reference.
// Implementations backed by the journal database write through the
// transaction carried by ctx, so a rolled back scope leaves no marker behind.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
