package loadtest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/unimate/roommate/internal/postgres"
)

// Seed inserts n matchable users with profiles and preferences, all of the
// same gender and university, and returns their ids in insertion order.
// tag keeps names and emails unique across runs.
func Seed(ctx context.Context, db *sql.DB, n int, tag string) ([]int64, error) {
	ids := make([]int64, 0, n)
	err := postgres.WithTx(ctx, db, func(tx *sql.Tx) error {
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("load-%s-%d", tag, i)
			var id int64
			err := tx.QueryRowContext(ctx, `INSERT INTO users (name, email, gender, birth_date, university)
				VALUES ($1, $1 || '@load.test', 'FEMALE', '2001-01-01', 'Load Test University')
				RETURNING id`, name).Scan(&id)
			if err != nil {
				return errors.Wrapf(err, "insert user %s", name)
			}

			sleep, cleaning := 1+i%5, 1+(i/5)%5
			if _, err := tx.ExecContext(ctx, `INSERT INTO user_profiles (user_id, sleep_time, is_smoker,
					cleaning_frequency, preferred_age_gap, hygiene_level, matching_enabled,
					start_use_date, end_use_date)
				VALUES ($1, $2, FALSE, $3, 2, 3, TRUE, '2025-03-01', '2025-08-31')`,
				id, sleep, cleaning); err != nil {
				return errors.Wrapf(err, "insert profile %s", name)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO user_match_preferences (user_id, sleep_time,
					is_smoker, cleaning_frequency, preferred_age_gap, hygiene_level)
				VALUES ($1, $2, FALSE, $3, 2, 3)`, id, sleep, cleaning); err != nil {
				return errors.Wrapf(err, "insert preference %s", name)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "loadtest: seed")
	}
	return ids, nil
}
