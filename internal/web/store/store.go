package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrClosed   = errors.New("store: closed")
)

// Store is the root data access interface. Concrete drivers (sqlite, redis,
// memory) implement it. The only server-side state is the pending login
// table, so there is one sub-repository.
type Store interface {
	PendingLogins() PendingLogins

	// ApplyMigrations brings the schema up to date. Drivers without a schema
	// return nil.
	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backend is still reachable.
	Ping(ctx context.Context) error
}

type PendingLogins interface {
	// SavePendingLogin writes the attempt, replacing any earlier one for the
	// same session.
	SavePendingLogin(ctx context.Context, p domain.PendingLogin) error

	// TakePendingLogin returns the attempt and deletes it in one step, so a
	// callback can only ever be redeemed once. Expired attempts are deleted
	// and reported as ErrNotFound.
	TakePendingLogin(ctx context.Context, sessionID string, now time.Time) (domain.PendingLogin, error)

	// DeleteExpiredPendingLogins is housekeeping. Returns the number removed.
	DeleteExpiredPendingLogins(ctx context.Context, now time.Time) (int64, error)
}
