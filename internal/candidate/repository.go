// Package candidate supplies the universe of profiles that discovery ranks,
// together with per-user profile and preference lookups. The Postgres and
// Redis-cached sources are interchangeable; callers must not assume anything
// fresher than the cache TTL.
package candidate

import (
	"context"
	"errors"

	"github.com/unimate/roommate/internal/profile"
)

// ErrNoProfile is returned by Writer when the user has no profile row.
var ErrNoProfile = errors.New("candidate: no profile")

// Repository is a read-only source of candidate data. Lookups return
// (nil, nil) when the user has no such record.
type Repository interface {
	// ListCandidates returns every profile with matching enabled.
	ListCandidates(ctx context.Context) ([]*profile.Profile, error)

	// Profile returns userID's profile regardless of its matching flag.
	Profile(ctx context.Context, userID int64) (*profile.Profile, error)

	// Preference returns userID's registered preference record.
	Preference(ctx context.Context, userID int64) (*profile.Preference, error)
}

// Writer is the single profile mutation the matching core performs.
type Writer interface {
	SetMatchingEnabled(ctx context.Context, userID int64, enabled bool) error
}

// Invalidator is implemented by sources that hold a snapshot.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}
