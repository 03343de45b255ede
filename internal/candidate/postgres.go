package candidate

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/unimate/roommate/internal/profile"
)

const profileQuery = `SELECT u.id, u.name, u.email, u.gender, u.university,
		u.student_verified, u.birth_date,
		p.sleep_time, p.is_pet_allowed, p.is_smoker, p.cleaning_frequency,
		p.preferred_age_gap, p.hygiene_level, p.is_snoring,
		p.drinking_frequency, p.noise_sensitivity, p.guest_frequency,
		COALESCE(p.mbti, ''), p.start_use_date, p.end_use_date,
		p.matching_enabled, (mp.user_id IS NOT NULL)
	FROM users u
	JOIN user_profiles p ON p.user_id = u.id
	LEFT JOIN user_match_preferences mp ON mp.user_id = u.id`

// PostgresRepository reads candidates directly from the relational store.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository using db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// lifestyleCols collects the nullable lifestyle columns of one row.
type lifestyleCols struct {
	sleep, cleaning, ageGap, hygiene, drinking, noise, guest sql.NullInt16
	pet, smoker, snoring                                     sql.NullBool
}

func (c *lifestyleCols) dest() []any {
	return []any{&c.sleep, &c.pet, &c.smoker, &c.cleaning, &c.ageGap,
		&c.hygiene, &c.snoring, &c.drinking, &c.noise, &c.guest}
}

func (c *lifestyleCols) lifestyle() profile.Lifestyle {
	return profile.Lifestyle{
		SleepTime:         intPtr(c.sleep),
		PetAllowed:        boolPtr(c.pet),
		Smoker:            boolPtr(c.smoker),
		CleaningFrequency: intPtr(c.cleaning),
		PreferredAgeGap:   intPtr(c.ageGap),
		HygieneLevel:      intPtr(c.hygiene),
		Snoring:           boolPtr(c.snoring),
		DrinkingFrequency: intPtr(c.drinking),
		NoiseSensitivity:  intPtr(c.noise),
		GuestFrequency:    intPtr(c.guest),
	}
}

func intPtr(v sql.NullInt16) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int16)
	return &i
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func scanProfile(row scanner) (*profile.Profile, error) {
	var (
		p                 profile.Profile
		cols              lifestyleCols
		birth, start, end sql.NullTime
	)
	dest := []any{&p.UserID, &p.Name, &p.Email, &p.Gender, &p.University,
		&p.StudentVerified, &birth}
	dest = append(dest, cols.dest()...)
	dest = append(dest, &p.MBTI, &start, &end, &p.MatchingEnabled, &p.HasPreference)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.BirthDate = timePtr(birth)
	p.StartUseDate = timePtr(start)
	p.EndUseDate = timePtr(end)
	p.Lifestyle = cols.lifestyle()
	return &p, nil
}

// ListCandidates implements Repository.
func (r *PostgresRepository) ListCandidates(ctx context.Context) ([]*profile.Profile, error) {
	rows, err := r.db.QueryContext(ctx, profileQuery+` WHERE p.matching_enabled ORDER BY u.id`)
	if err != nil {
		return nil, errors.Wrap(err, "candidate: list")
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "candidate: scan")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "candidate: list")
}

// Profile implements Repository.
func (r *PostgresRepository) Profile(ctx context.Context, userID int64) (*profile.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, profileQuery+` WHERE u.id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "candidate: profile %d", userID)
	}
	return p, nil
}

// Preference implements Repository.
func (r *PostgresRepository) Preference(ctx context.Context, userID int64) (*profile.Preference, error) {
	var (
		pref              profile.Preference
		cols              lifestyleCols
		birth, start, end sql.NullTime
	)
	dest := []any{&pref.UserID, &birth}
	dest = append(dest, cols.dest()...)
	dest = append(dest, &start, &end)

	err := r.db.QueryRowContext(ctx, `SELECT u.id, u.birth_date,
			mp.sleep_time, mp.is_pet_allowed, mp.is_smoker, mp.cleaning_frequency,
			mp.preferred_age_gap, mp.hygiene_level, mp.is_snoring,
			mp.drinking_frequency, mp.noise_sensitivity, mp.guest_frequency,
			mp.start_use_date, mp.end_use_date
		FROM user_match_preferences mp
		JOIN users u ON u.id = mp.user_id
		WHERE mp.user_id = $1`, userID).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "candidate: preference %d", userID)
	}
	pref.BirthDate = timePtr(birth)
	pref.StartUseDate = timePtr(start)
	pref.EndUseDate = timePtr(end)
	pref.Lifestyle = cols.lifestyle()
	return &pref, nil
}

// SetMatchingEnabled implements Writer.
func (r *PostgresRepository) SetMatchingEnabled(ctx context.Context, userID int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE user_profiles
		SET matching_enabled = $2, updated_at = now()
		WHERE user_id = $1`, userID, enabled)
	if err != nil {
		return errors.Wrap(err, "candidate: set matching enabled")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "candidate: set matching enabled")
	}
	if n == 0 {
		return ErrNoProfile
	}
	return nil
}
