package match

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Update and Delete for a missing row.
	ErrNotFound = errors.New("match: not found")

	// ErrDuplicatePair is returned by Insert when a record already exists
	// for the unordered pair. The surrounding transaction is aborted.
	ErrDuplicatePair = errors.New("match: duplicate pair")

	// ErrStaleVersion is returned by Update when the row changed since it
	// was read.
	ErrStaleVersion = errors.New("match: stale version")
)

// Store persists Match records. At most one record exists per unordered
// pair. Lookups return (nil, nil) when nothing matches.
type Store interface {
	// WithinTx runs fn in a single transaction. fn's error rolls back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Get(ctx context.Context, id int64) (*Match, error)
	FindPair(ctx context.Context, a, b int64) (*Match, error)
	ListByUser(ctx context.Context, user int64) ([]*Match, error)

	// DeleteUnfinalizedByUser removes every PENDING record user takes part
	// in and returns the removed records.
	DeleteUnfinalizedByUser(ctx context.Context, user int64) ([]*Match, error)
}

// Tx is the unit of work handed to WithinTx. Rows read with the ForUpdate
// methods stay locked until the transaction ends.
type Tx interface {
	FindPairForUpdate(ctx context.Context, a, b int64) (*Match, error)
	FindForUpdate(ctx context.Context, id int64) (*Match, error)

	// Insert stores m, assigning ID and Version.
	Insert(ctx context.Context, m *Match) error

	// Update writes m if the stored version equals m.Version, then bumps
	// m.Version.
	Update(ctx context.Context, m *Match) error

	Delete(ctx context.Context, id int64) error
}

// IsRetryable reports whether err is a concurrency conflict that a fresh
// transaction may resolve.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicatePair) || errors.Is(err, ErrStaleVersion)
}
