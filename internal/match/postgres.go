package match

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/unimate/roommate/internal/postgres"
)

// PairIndex is the unique index on the unordered participant pair.
const PairIndex = "matches_pair_uidx"

const matchColumns = `id, sender_id, receiver_id, match_type, match_status,
	sender_response, receiver_response, preference_score, confirmed_at,
	rematch_round, version, created_at, updated_at`

// PostgresStore is a Store backed by the matches table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store using db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*Match, error) {
	var (
		m           Match
		confirmedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Type, &m.Status,
		&m.SenderResponse, &m.ReceiverResponse, &m.PreferenceScore, &confirmedAt,
		&m.RematchRound, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		m.ConfirmedAt = &t
	}
	return &m, nil
}

func scanOne(row *sql.Row, op string) (*Match, error) {
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "match: "+op)
	}
	return m, nil
}

// queryer is the subset of *sql.DB and *sql.Tx the store needs.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const pairQuery = `SELECT ` + matchColumns + `
	FROM matches
	WHERE LEAST(sender_id, receiver_id) = LEAST($1::bigint, $2::bigint)
	  AND GREATEST(sender_id, receiver_id) = GREATEST($1::bigint, $2::bigint)`

func findPair(ctx context.Context, q queryer, a, b int64, forUpdate bool) (*Match, error) {
	query := pairQuery
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOne(q.QueryRowContext(ctx, query, a, b), "find pair")
}

func findByID(ctx context.Context, q queryer, id int64, forUpdate bool) (*Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOne(q.QueryRowContext(ctx, query, id), "find by id")
}

// WithinTx implements Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Match, error) {
	return findByID(ctx, s.db, id, false)
}

// FindPair implements Store.
func (s *PostgresStore) FindPair(ctx context.Context, a, b int64) (*Match, error) {
	return findPair(ctx, s.db, a, b, false)
}

// ListByUser implements Store. Results are ordered newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, user int64) ([]*Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+`
		FROM matches
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id DESC`, user)
	if err != nil {
		return nil, errors.Wrap(err, "match: list by user")
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "match: scan")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "match: list by user")
}

// DeleteUnfinalizedByUser implements Store.
func (s *PostgresStore) DeleteUnfinalizedByUser(ctx context.Context, user int64) ([]*Match, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM matches
		WHERE (sender_id = $1 OR receiver_id = $1) AND match_status = $2
		RETURNING `+matchColumns, user, StatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "match: delete unfinalized")
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "match: scan")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "match: delete unfinalized")
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FindPairForUpdate(ctx context.Context, a, b int64) (*Match, error) {
	return findPair(ctx, t.tx, a, b, true)
}

func (t *pgTx) FindForUpdate(ctx context.Context, id int64) (*Match, error) {
	return findByID(ctx, t.tx, id, true)
}

func (t *pgTx) Insert(ctx context.Context, m *Match) error {
	err := t.tx.QueryRowContext(ctx, `INSERT INTO matches (
			sender_id, receiver_id, match_type, match_status,
			sender_response, receiver_response, preference_score,
			rematch_round, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		RETURNING id, version`,
		m.SenderID, m.ReceiverID, m.Type, m.Status,
		m.SenderResponse, m.ReceiverResponse, m.PreferenceScore,
		m.RematchRound, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID, &m.Version)
	if postgres.IsUniqueViolation(err, PairIndex) {
		return ErrDuplicatePair
	}
	return errors.Wrap(err, "match: insert")
}

func (t *pgTx) Update(ctx context.Context, m *Match) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE matches SET
			sender_id = $1, receiver_id = $2, match_type = $3, match_status = $4,
			sender_response = $5, receiver_response = $6, confirmed_at = $7,
			updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10`,
		m.SenderID, m.ReceiverID, m.Type, m.Status,
		m.SenderResponse, m.ReceiverResponse, m.ConfirmedAt,
		m.UpdatedAt, m.ID, m.Version)
	if err != nil {
		return errors.Wrap(err, "match: update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "match: update")
	}
	if n == 0 {
		var exists bool
		if err := t.tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
			return errors.Wrap(err, "match: update")
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleVersion
	}
	m.Version++
	return nil
}

func (t *pgTx) Delete(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "match: delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "match: delete")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
