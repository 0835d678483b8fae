package store

import (
	"context"
	"errors"

	"keymint/internal/license"
)

// Sentinel errors surfaced by Store implementations. The lifecycle
// engine switches on these: duplicate key triggers a regenerate-and-
// retry, duplicate order resolves to the existing record, and a
// version conflict restarts the read-modify-write cycle.
var (
	ErrNotFound        = errors.New("license not found")
	ErrDuplicateKey    = errors.New("license key already exists")
	ErrDuplicateOrder  = errors.New("license already exists for order")
	ErrVersionConflict = errors.New("license record changed concurrently")
)

// Store is the persistence boundary for license records. All methods
// honor context cancellation and deadlines; callers are expected to
// pass bounded contexts so no store operation can hang a request.
//
// Update performs a compare-and-swap on the record's version: it only
// writes if the stored version equals lic.Version, and bumps the
// version on success. This is the atomic unit that keeps the
// read-check-append sequence in Activate from racing past the device
// limit.
type Store interface {
	Insert(ctx context.Context, lic *license.License) error
	GetByKey(ctx context.Context, key string) (*license.License, error)
	GetByOrder(ctx context.Context, orderID string) (*license.License, error)
	Update(ctx context.Context, lic *license.License) error
	Ping(ctx context.Context) error
	Close() error
}
