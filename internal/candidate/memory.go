package candidate

import (
	"context"
	"sort"
	"sync"

	"github.com/unimate/roommate/internal/profile"
)

// MemoryRepository is an in-process Repository and Writer, used by the
// in-memory deployment mode and by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[int64]profile.Profile
	prefs    map[int64]profile.Preference
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[int64]profile.Profile),
		prefs:    make(map[int64]profile.Preference),
	}
}

// PutProfile stores p, replacing any previous profile for the user. The
// HasPreference flag is kept in sync with stored preferences.
func (r *MemoryRepository) PutProfile(p profile.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, p.HasPreference = r.prefs[p.UserID]
	r.profiles[p.UserID] = p
}

// PutPreference stores pref for its user.
func (r *MemoryRepository) PutPreference(pref profile.Preference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[pref.UserID] = pref
	if p, ok := r.profiles[pref.UserID]; ok {
		p.HasPreference = true
		r.profiles[pref.UserID] = p
	}
}

// ListCandidates implements Repository. Profiles are ordered by user id.
func (r *MemoryRepository) ListCandidates(_ context.Context) ([]*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*profile.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.MatchingEnabled {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Profile implements Repository.
func (r *MemoryRepository) Profile(_ context.Context, userID int64) (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Preference implements Repository.
func (r *MemoryRepository) Preference(_ context.Context, userID int64) (*profile.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pref, ok := r.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &pref, nil
}

// SetMatchingEnabled implements Writer.
func (r *MemoryRepository) SetMatchingEnabled(_ context.Context, userID int64, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return ErrNoProfile
	}
	p.MatchingEnabled = enabled
	r.profiles[userID] = p
	return nil
}
