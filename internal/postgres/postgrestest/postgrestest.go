// Package postgrestest provides a migrated, empty database for integration
// tests. Tests are skipped when POSTGRES_TEST_DSN is unset or the server is
// unreachable.
package postgrestest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/unimate/roommate/internal/migrations"
	"github.com/unimate/roommate/internal/postgres"
)

// DSNEnv names the environment variable holding the test database DSN.
const DSNEnv = "POSTGRES_TEST_DSN"

// Open returns a connection to a freshly truncated test database.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("skipping: %s not set", DSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("skipping: Postgres not available: %v", err)
	}
	if err := migrations.Up(ctx, dsn); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	truncate(t, db)
	t.Cleanup(func() {
		truncate(t, db)
		db.Close()
	})
	return db
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE notifications, matches, user_match_preferences,
		user_profiles, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// User describes a seeded account.
type User struct {
	Name            string
	Gender          string
	University      string
	BirthDate       time.Time
	MatchingEnabled bool
	WithPreference  bool
	SleepTime       int
	Cleaning        int
}

// SeedUser inserts u with a profile and, when requested, a preference
// record, returning the new user id.
func SeedUser(t *testing.T, db *sql.DB, u User) int64 {
	t.Helper()

	if u.Gender == "" {
		u.Gender = "FEMALE"
	}
	if u.University == "" {
		u.University = "Seoul National University"
	}
	if u.BirthDate.IsZero() {
		u.BirthDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if u.SleepTime == 0 {
		u.SleepTime = 3
	}
	if u.Cleaning == 0 {
		u.Cleaning = 3
	}

	var id int64
	err := db.QueryRow(`INSERT INTO users (name, email, gender, birth_date, university)
		VALUES ($1, $1 || '@example.com', $2, $3, $4) RETURNING id`,
		u.Name, u.Gender, u.BirthDate, u.University).Scan(&id)
	if err != nil {
		t.Fatalf("seed user %s: %v", u.Name, err)
	}

	_, err = db.Exec(`INSERT INTO user_profiles (user_id, sleep_time, is_smoker,
			cleaning_frequency, preferred_age_gap, hygiene_level, matching_enabled,
			start_use_date, end_use_date)
		VALUES ($1, $2, FALSE, $3, 2, 3, $4, '2025-03-01', '2025-08-31')`,
		id, u.SleepTime, u.Cleaning, u.MatchingEnabled)
	if err != nil {
		t.Fatalf("seed profile %s: %v", u.Name, err)
	}

	if u.WithPreference {
		_, err = db.Exec(`INSERT INTO user_match_preferences (user_id, sleep_time,
				is_smoker, cleaning_frequency, preferred_age_gap, hygiene_level)
			VALUES ($1, $2, FALSE, $3, 2, 3)`, id, u.SleepTime, u.Cleaning)
		if err != nil {
			t.Fatalf("seed preference %s: %v", u.Name, err)
		}
	}
	return id
}
