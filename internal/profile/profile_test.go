package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAge_BirthdayNotYetReached(t *testing.T) {
	now := date(2025, time.March, 1)

	assert.Equal(t, 24, Age(date(2000, time.March, 2), now))
	assert.Equal(t, 25, Age(date(2000, time.March, 1), now))
	assert.Equal(t, 25, Age(date(2000, time.February, 28), now))
}

func TestAge_LeapDay(t *testing.T) {
	// Feb 29 birthday is not reached on Feb 28 of a non-leap year.
	assert.Equal(t, 20, Age(date(2004, time.February, 29), date(2025, time.February, 28)))
	assert.Equal(t, 21, Age(date(2004, time.February, 29), date(2025, time.March, 1)))
}

func TestAge_FutureBirthDate(t *testing.T) {
	assert.Equal(t, 0, Age(date(2030, time.January, 1), date(2025, time.January, 1)))
}

func TestLifestyle_NormalizedClampsLevels(t *testing.T) {
	l := Lifestyle{
		SleepTime:         Int(0),
		CleaningFrequency: Int(9),
		HygieneLevel:      Int(3),
		Smoker:            Bool(true),
	}

	n := l.Normalized()
	require.NotNil(t, n.SleepTime)
	assert.Equal(t, 1, *n.SleepTime)
	assert.Equal(t, 5, *n.CleaningFrequency)
	assert.Equal(t, 3, *n.HygieneLevel)
	assert.Nil(t, n.GuestFrequency)
	assert.True(t, *n.Smoker)

	// The receiver is untouched.
	assert.Equal(t, 0, *l.SleepTime)
}

func TestSubject_NilReceivers(t *testing.T) {
	var p *Profile
	var pref *Preference
	assert.Nil(t, p.Subject())
	assert.Nil(t, pref.Subject())
}
