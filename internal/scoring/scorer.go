// Package scoring computes the compatibility score between two roommate
// candidates as a fixed weighted sum of lifestyle similarities.
package scoring

import (
	"math"
	"time"

	"github.com/unimate/roommate/internal/profile"
)

const scaleRange = float64(profile.MaxLevel - profile.MinLevel)

// Category weights. They sum to 1.00.
const (
	WeightSmoking     = 0.20
	WeightSleep       = 0.20
	WeightCleanliness = 0.20
	WeightAge         = 0.10
	WeightNoise       = 0.10
	WeightPet         = 0.10
	WeightLifestyle   = 0.10
)

// Breakdown holds the per-category sub-scores before weighting.
type Breakdown struct {
	Smoking     float64
	Sleep       float64
	Cleanliness float64
	Age         float64
	Noise       float64
	Pet         float64
	Lifestyle   float64
}

// Total returns the weighted sum rounded to two decimals.
func (b Breakdown) Total() float64 {
	sum := b.Smoking*WeightSmoking +
		b.Sleep*WeightSleep +
		b.Cleanliness*WeightCleanliness +
		b.Age*WeightAge +
		b.Noise*WeightNoise +
		b.Pet*WeightPet +
		b.Lifestyle*WeightLifestyle
	return Round2(sum)
}

// Scorer is safe for concurrent use.
type Scorer struct {
	now func() time.Time
}

// NewScorer returns a Scorer that derives ages from now. A nil clock uses
// time.Now.
func NewScorer(now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{now: now}
}

// Score returns the compatibility of a and b in [0,1]. It returns 0 when
// either side or its owning identity is absent.
func (s *Scorer) Score(a, b *profile.Subject) float64 {
	bd, ok := s.Breakdown(a, b)
	if !ok {
		return 0
	}
	return bd.Total()
}

// Breakdown returns the per-category sub-scores. ok is false when either
// side or its identity is absent.
func (s *Scorer) Breakdown(a, b *profile.Subject) (Breakdown, bool) {
	if a == nil || b == nil || a.UserID == 0 || b.UserID == 0 {
		return Breakdown{}, false
	}
	la, lb := a.Lifestyle.Normalized(), b.Lifestyle.Normalized()

	return Breakdown{
		Smoking: boolScore(la.Smoker, lb.Smoker),
		Sleep:   intScore(la.SleepTime, lb.SleepTime),
		Cleanliness: (intScore(la.CleaningFrequency, lb.CleaningFrequency) +
			intScore(la.HygieneLevel, lb.HygieneLevel)) / 2,
		Age: s.ageScore(a.BirthDate, la.PreferredAgeGap, b.BirthDate, lb.PreferredAgeGap),
		Noise: (intScore(la.NoiseSensitivity, lb.NoiseSensitivity) +
			boolScore(la.Snoring, lb.Snoring)) / 2,
		Pet: boolScore(la.PetAllowed, lb.PetAllowed),
		Lifestyle: (intScore(la.DrinkingFrequency, lb.DrinkingFrequency) +
			intScore(la.GuestFrequency, lb.GuestFrequency)) / 2,
	}, true
}

// ageScore is 1.0 when each side's age falls in the other's preferred band,
// 0.5 when only one side is satisfied. Swapping the arguments evaluates the
// same two directions, so the sub-score does not depend on argument order.
func (s *Scorer) ageScore(birthA *time.Time, gapA *int, birthB *time.Time, gapB *int) float64 {
	if birthA == nil || birthB == nil || gapA == nil || gapB == nil {
		return 0
	}
	now := s.now()
	ageA := profile.Age(*birthA, now)
	ageB := profile.Age(*birthB, now)

	aSatisfied := AgeInBand(ageB, *gapA)
	bSatisfied := AgeInBand(ageA, *gapB)

	switch {
	case aSatisfied && bSatisfied:
		return 1.0
	case aSatisfied || bSatisfied:
		return 0.5
	default:
		return 0
	}
}

// AgeInBand reports whether age falls in the preferred age-gap category:
// 1 → 20-22, 2 → 23-25, 3 → 26-28, 4 → 29-30, 5 → 31+.
func AgeInBand(age, category int) bool {
	switch category {
	case 1:
		return age >= 20 && age <= 22
	case 2:
		return age >= 23 && age <= 25
	case 3:
		return age >= 26 && age <= 28
	case 4:
		return age >= 29 && age <= 30
	case 5:
		return age >= 31
	default:
		return false
	}
}

func intScore(a, b *int) float64 {
	if a == nil || b == nil {
		return 0
	}
	return 1 - math.Abs(float64(*a-*b))/scaleRange
}

func boolScore(a, b *bool) float64 {
	if a == nil || b == nil {
		return 0
	}
	if *a == *b {
		return 1
	}
	return 0
}

// Round2 rounds half away from zero to two decimal places. The value is
// first snapped to millionths so that sums such as 0.725 that land a hair
// below the midpoint in binary still round up.
func Round2(v float64) float64 {
	return math.Round(math.Round(v*1e6)/1e4) / 100
}
