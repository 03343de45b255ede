package scoring

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimate/roommate/internal/profile"
)

var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestScorer() *Scorer {
	return NewScorer(func() time.Time { return fixedNow })
}

func born(y int) *time.Time {
	t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func subjectA() *profile.Subject {
	return &profile.Subject{
		UserID:    1,
		BirthDate: born(2001), // 24
		Lifestyle: profile.Lifestyle{
			SleepTime:         profile.Int(1),
			PetAllowed:        profile.Bool(true),
			Smoker:            profile.Bool(false),
			CleaningFrequency: profile.Int(5),
			PreferredAgeGap:   profile.Int(2), // 23-25
			HygieneLevel:      profile.Int(5),
			Snoring:           profile.Bool(false),
			DrinkingFrequency: profile.Int(1),
			NoiseSensitivity:  profile.Int(5),
			GuestFrequency:    profile.Int(1),
		},
	}
}

func subjectB() *profile.Subject {
	return &profile.Subject{
		UserID:    2,
		BirthDate: born(2000), // 25
		Lifestyle: profile.Lifestyle{
			SleepTime:         profile.Int(3),
			PetAllowed:        profile.Bool(true),
			Smoker:            profile.Bool(true),
			CleaningFrequency: profile.Int(4),
			PreferredAgeGap:   profile.Int(5), // 31+
			HygieneLevel:      profile.Int(3),
			Snoring:           profile.Bool(true),
			DrinkingFrequency: profile.Int(2),
			NoiseSensitivity:  profile.Int(3),
			GuestFrequency:    profile.Int(3),
		},
	}
}

func TestScore_IdenticalProfiles(t *testing.T) {
	s := newTestScorer()
	a := subjectA()
	b := subjectA()
	b.UserID = 2

	assert.Equal(t, 1.0, s.Score(a, b))
}

func TestScore_FixedFixture(t *testing.T) {
	s := newTestScorer()

	bd, ok := s.Breakdown(subjectA(), subjectB())
	require.True(t, ok)

	assert.Equal(t, 0.0, bd.Smoking)
	assert.Equal(t, 0.5, bd.Sleep)
	assert.Equal(t, 0.625, bd.Cleanliness)
	assert.Equal(t, 0.5, bd.Age)
	assert.Equal(t, 0.25, bd.Noise)
	assert.Equal(t, 1.0, bd.Pet)
	assert.Equal(t, 0.625, bd.Lifestyle)

	// 0 + .1 + .125 + .05 + .025 + .1 + .0625 = .4625
	assert.Equal(t, 0.46, s.Score(subjectA(), subjectB()))
}

func TestScore_Symmetric(t *testing.T) {
	s := newTestScorer()
	assert.Equal(t, s.Score(subjectA(), subjectB()), s.Score(subjectB(), subjectA()))
}

// Each side tests the other's age against its own band, so with different
// gap preferences only one direction may be satisfied. Both argument orders
// evaluate the same two directions and therefore agree.
func TestScore_AgeWithDifferentGapPreferences(t *testing.T) {
	s := newTestScorer()
	a, b := subjectA(), subjectB()

	ab, _ := s.Breakdown(a, b)
	ba, _ := s.Breakdown(b, a)
	assert.Equal(t, 0.5, ab.Age)
	assert.Equal(t, ab.Age, ba.Age)

	// Make b accept a's age as well.
	b.Lifestyle.PreferredAgeGap = profile.Int(2)
	ab, _ = s.Breakdown(a, b)
	assert.Equal(t, 1.0, ab.Age)

	// Neither satisfied.
	a.Lifestyle.PreferredAgeGap = profile.Int(5)
	b.Lifestyle.PreferredAgeGap = profile.Int(5)
	ab, _ = s.Breakdown(a, b)
	assert.Equal(t, 0.0, ab.Age)
}

func TestScore_MissingAttributesScoreZero(t *testing.T) {
	s := newTestScorer()
	a := &profile.Subject{UserID: 1, Lifestyle: profile.Lifestyle{Smoker: profile.Bool(true)}}
	b := subjectB()

	// Only smoking can be compared.
	assert.Equal(t, 0.2, s.Score(a, b))

	// Missing birth date disables the age category.
	c := subjectA()
	c.BirthDate = nil
	bd, ok := s.Breakdown(c, subjectA())
	require.True(t, ok)
	assert.Equal(t, 0.0, bd.Age)
}

func TestScore_AbsentSides(t *testing.T) {
	s := newTestScorer()
	assert.Equal(t, 0.0, s.Score(nil, subjectB()))
	assert.Equal(t, 0.0, s.Score(subjectA(), nil))

	anon := subjectA()
	anon.UserID = 0
	assert.Equal(t, 0.0, s.Score(anon, subjectB()))
}

func TestScore_OutOfRangeLevelsAreClamped(t *testing.T) {
	s := newTestScorer()
	a := &profile.Subject{UserID: 1, Lifestyle: profile.Lifestyle{SleepTime: profile.Int(-3)}}
	b := &profile.Subject{UserID: 2, Lifestyle: profile.Lifestyle{SleepTime: profile.Int(42)}}

	bd, _ := s.Breakdown(a, b)
	assert.Equal(t, 0.0, bd.Sleep)
}

func TestScore_BoundsAndSymmetryOverRandomProfiles(t *testing.T) {
	s := newTestScorer()
	rng := rand.New(rand.NewSource(7))

	randomSubject := func(id int64) *profile.Subject {
		lvl := func() *int {
			if rng.Intn(8) == 0 {
				return nil
			}
			return profile.Int(1 + rng.Intn(5))
		}
		flag := func() *bool {
			if rng.Intn(8) == 0 {
				return nil
			}
			return profile.Bool(rng.Intn(2) == 0)
		}
		return &profile.Subject{
			UserID:    id,
			BirthDate: born(1990 + rng.Intn(16)),
			Lifestyle: profile.Lifestyle{
				SleepTime: lvl(), PetAllowed: flag(), Smoker: flag(),
				CleaningFrequency: lvl(), PreferredAgeGap: lvl(), HygieneLevel: lvl(),
				Snoring: flag(), DrinkingFrequency: lvl(), NoiseSensitivity: lvl(),
				GuestFrequency: lvl(),
			},
		}
	}

	for i := 0; i < 500; i++ {
		a, b := randomSubject(1), randomSubject(2)
		ab := s.Score(a, b)
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
		assert.Equal(t, ab, s.Score(b, a))
	}
}

func TestAgeInBand(t *testing.T) {
	cases := []struct {
		age, category int
		want          bool
	}{
		{19, 1, false}, {20, 1, true}, {22, 1, true}, {23, 1, false},
		{23, 2, true}, {25, 2, true}, {26, 3, true}, {28, 3, true},
		{29, 4, true}, {30, 4, true}, {31, 4, false}, {31, 5, true},
		{60, 5, true}, {25, 0, false}, {25, 6, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AgeInBand(c.age, c.category), "age=%d category=%d", c.age, c.category)
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.73, Round2(0.725))
	assert.Equal(t, 0.46, Round2(0.4625))
	assert.Equal(t, 0.81, Round2(0.8125))
	assert.Equal(t, 1.0, Round2(0.999999))
	assert.Equal(t, 0.0, Round2(0))
}
