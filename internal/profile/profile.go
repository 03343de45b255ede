// Package profile holds the read-only view of users that the matching core
// consumes: the raw profile of a candidate and the preference record of the
// requester. Both share the same lifestyle attribute set.
package profile

import "time"

const (
	// MinLevel and MaxLevel bound every integer lifestyle attribute.
	MinLevel = 1
	MaxLevel = 5
)

// Gender is stored as the upper-case name used by the profile service.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// Lifestyle is the set of compared attributes. Nil means "not provided".
type Lifestyle struct {
	SleepTime         *int  `json:"sleep_time,omitempty"`
	PetAllowed        *bool `json:"pet_allowed,omitempty"`
	Smoker            *bool `json:"smoker,omitempty"`
	CleaningFrequency *int  `json:"cleaning_frequency,omitempty"`
	PreferredAgeGap   *int  `json:"preferred_age_gap,omitempty"`
	HygieneLevel      *int  `json:"hygiene_level,omitempty"`
	Snoring           *bool `json:"snoring,omitempty"`
	DrinkingFrequency *int  `json:"drinking_frequency,omitempty"`
	NoiseSensitivity  *int  `json:"noise_sensitivity,omitempty"`
	GuestFrequency    *int  `json:"guest_frequency,omitempty"`
}

// Normalized returns a copy with every integer attribute clamped to
// [MinLevel, MaxLevel].
func (l Lifestyle) Normalized() Lifestyle {
	out := l
	out.SleepTime = clamp(l.SleepTime)
	out.CleaningFrequency = clamp(l.CleaningFrequency)
	out.PreferredAgeGap = clamp(l.PreferredAgeGap)
	out.HygieneLevel = clamp(l.HygieneLevel)
	out.DrinkingFrequency = clamp(l.DrinkingFrequency)
	out.NoiseSensitivity = clamp(l.NoiseSensitivity)
	out.GuestFrequency = clamp(l.GuestFrequency)
	return out
}

func clamp(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	if c < MinLevel {
		c = MinLevel
	}
	if c > MaxLevel {
		c = MaxLevel
	}
	return &c
}

// Profile is a candidate as seen by discovery.
type Profile struct {
	UserID          int64      `json:"user_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Gender          Gender     `json:"gender"`
	University      string     `json:"university"`
	StudentVerified bool       `json:"student_verified"`
	BirthDate       *time.Time `json:"birth_date,omitempty"`
	MBTI            string     `json:"mbti,omitempty"`
	Lifestyle       Lifestyle  `json:"lifestyle"`
	StartUseDate    *time.Time `json:"start_use_date,omitempty"`
	EndUseDate      *time.Time `json:"end_use_date,omitempty"`
	MatchingEnabled bool       `json:"matching_enabled"`
	HasPreference   bool       `json:"has_preference"`
}

// Subject returns the scoring view of the profile.
func (p *Profile) Subject() *Subject {
	if p == nil {
		return nil
	}
	return &Subject{UserID: p.UserID, BirthDate: p.BirthDate, Lifestyle: p.Lifestyle.Normalized()}
}

// Preference is the requester's registered preference record.
type Preference struct {
	UserID       int64      `json:"user_id"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	Lifestyle    Lifestyle  `json:"lifestyle"`
	StartUseDate *time.Time `json:"start_use_date,omitempty"`
	EndUseDate   *time.Time `json:"end_use_date,omitempty"`
}

// Subject returns the scoring view of the preference record.
func (p *Preference) Subject() *Subject {
	if p == nil {
		return nil
	}
	return &Subject{UserID: p.UserID, BirthDate: p.BirthDate, Lifestyle: p.Lifestyle.Normalized()}
}

// Subject is one side of a compatibility comparison. A zero UserID means the
// owning identity is absent.
type Subject struct {
	UserID    int64
	BirthDate *time.Time
	Lifestyle Lifestyle
}

// Age returns the age in whole years at now, subtracting one when this
// year's birthday has not happened yet. Negative results are reported as 0.
func Age(birthDate, now time.Time) int {
	age := now.Year() - birthDate.Year()
	if now.Month() < birthDate.Month() ||
		(now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Int and Bool are fixture helpers for optional attributes.
func Int(v int) *int    { return &v }
func Bool(v bool) *bool { return &v }
