// Package filter decides which candidate profiles are eligible to be shown
// to a requesting user. The hard gating rules (identity, gender, university,
// opt-in, preference record, pair already spoken for) always apply. The
// optional criteria pass everything through when absent and exclude the
// candidate when a present value is not recognised.
package filter

import (
	"strings"
	"time"

	"github.com/unimate/roommate/internal/apperror"
	"github.com/unimate/roommate/internal/profile"
)

// Recognised criterion values.
const (
	SleepEarly  = "early"
	SleepNormal = "normal"
	SleepLate   = "late"

	Age20To25 = "20-25"
	Age26To30 = "26-30"
	Age31To35 = "31-35"
	Age36Plus = "36+"

	CleaningDaily    = "daily"
	CleaningFrequent = "frequent"
	CleaningModerate = "moderate"
	CleaningRare     = "rare"
)

// Criteria are the optional user-supplied filters. An empty string or nil
// date means the criterion is absent.
type Criteria struct {
	SleepPattern      string     `json:"sleep_pattern,omitempty"`
	AgeRange          string     `json:"age_range,omitempty"`
	CleaningFrequency string     `json:"cleaning_frequency,omitempty"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
}

// Validate rejects a date window with a single bound or with its start after
// its end. Unknown bucket values are not an error here; they exclude every
// candidate instead.
func (c Criteria) Validate() error {
	if (c.StartDate == nil) != (c.EndDate == nil) {
		return apperror.BadRequest("both start_date and end_date are required for a date filter")
	}
	if c.StartDate != nil && c.StartDate.After(*c.EndDate) {
		return apperror.BadRequest("start_date must not be after end_date")
	}
	return nil
}

// Filter applies the gating rules and criteria. It is safe for concurrent use.
type Filter struct {
	now func() time.Time
}

// New returns a Filter that computes ages against now. A nil clock uses
// time.Now.
func New(now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	return &Filter{now: now}
}

// Apply returns the candidates eligible for requester, preserving input
// order. spokenFor holds the ids of users already paired with the requester
// by a pending or accepted request.
func (f *Filter) Apply(requester *profile.Profile, candidates []*profile.Profile, spokenFor map[int64]bool, c Criteria) ([]*profile.Profile, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]*profile.Profile, 0, len(candidates))
	for _, p := range candidates {
		if f.Eligible(requester, p, spokenFor) && f.MatchesCriteria(p, c) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Eligible applies the hard gating rules.
func (f *Filter) Eligible(requester, p *profile.Profile, spokenFor map[int64]bool) bool {
	if requester == nil || p == nil {
		return false
	}
	switch {
	case p.UserID == requester.UserID:
		return false
	case p.Gender != requester.Gender:
		return false
	case !p.MatchingEnabled:
		return false
	case !p.HasPreference:
		return false
	case p.University != requester.University:
		return false
	case spokenFor[p.UserID]:
		return false
	}
	return true
}

// MatchesCriteria reports whether p passes every present criterion. A
// candidate without a sleep or cleaning value passes that criterion; one
// without a birth date fails an age criterion.
func (f *Filter) MatchesCriteria(p *profile.Profile, c Criteria) bool {
	return matchSleep(p, c.SleepPattern) &&
		f.matchAge(p, c.AgeRange) &&
		matchCleaning(p, c.CleaningFrequency) &&
		Overlaps(p.StartUseDate, p.EndUseDate, c.StartDate, c.EndDate)
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Sleep buckets: 1 before 22h, 2 22-00h, 3 00-02h, 4 02-04h, 5 after 04h.
func matchSleep(p *profile.Profile, pattern string) bool {
	pattern = normalize(pattern)
	if pattern == "" {
		return true
	}
	v := p.Lifestyle.Normalized().SleepTime
	if v == nil {
		return true
	}
	switch pattern {
	case SleepEarly:
		return *v == 1
	case SleepNormal:
		return *v >= 2 && *v <= 3
	case SleepLate:
		return *v >= 4
	default:
		return false
	}
}

func (f *Filter) matchAge(p *profile.Profile, band string) bool {
	band = normalize(band)
	if band == "" {
		return true
	}
	if p.BirthDate == nil {
		return false
	}
	age := profile.Age(*p.BirthDate, f.now())
	switch band {
	case Age20To25:
		return age >= 20 && age <= 25
	case Age26To30:
		return age >= 26 && age <= 30
	case Age31To35:
		return age >= 31 && age <= 35
	case Age36Plus:
		return age >= 36
	default:
		return false
	}
}

func matchCleaning(p *profile.Profile, freq string) bool {
	freq = normalize(freq)
	if freq == "" {
		return true
	}
	v := p.Lifestyle.Normalized().CleaningFrequency
	if v == nil {
		return true
	}
	switch freq {
	case CleaningDaily:
		return *v == 5
	case CleaningFrequent:
		return *v >= 3 && *v <= 4
	case CleaningModerate:
		return *v == 2
	case CleaningRare:
		return *v == 1
	default:
		return false
	}
}

// Overlaps reports whether the candidate window [start,end] intersects the
// filter window. An absent filter window always overlaps; a candidate with
// either bound missing never does.
func Overlaps(start, end, filterStart, filterEnd *time.Time) bool {
	if filterStart == nil || filterEnd == nil {
		return true
	}
	if start == nil || end == nil {
		return false
	}
	return !start.After(*filterEnd) && !end.Before(*filterStart)
}
