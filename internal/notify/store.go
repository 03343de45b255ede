package notify

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// PostgresStore stores notifications in the notifications table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store using db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	var chatroom sql.NullString
	if n.ChatroomID != "" {
		chatroom = sql.NullString{String: n.ChatroomID, Valid: true}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	var sender sql.NullInt64
	if n.SenderID != 0 {
		sender = sql.NullInt64{Int64: n.SenderID, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `INSERT INTO notifications
			(receiver_id, type, message, sender_name, sender_id, chatroom_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		n.ReceiverID, n.Type, n.Message, n.SenderName, sender, chatroom, n.CreatedAt,
	).Scan(&n.ID)
	return errors.Wrap(err, "notify: insert")
}

// ExistsBySender implements Store.
func (s *PostgresStore) ExistsBySender(ctx context.Context, receiver int64, typ Type, sender int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(
			SELECT 1 FROM notifications
			WHERE receiver_id = $1 AND type = $2 AND sender_id = $3)`,
		receiver, typ, sender).Scan(&ok)
	return ok, errors.Wrap(err, "notify: exists")
}

// DeleteBySender implements Store.
func (s *PostgresStore) DeleteBySender(ctx context.Context, receiver int64, typ Type, sender int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications
		WHERE receiver_id = $1 AND type = $2 AND sender_id = $3`,
		receiver, typ, sender)
	if err != nil {
		return 0, errors.Wrap(err, "notify: delete")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "notify: delete")
}

// ListByReceiver implements Store.
func (s *PostgresStore) ListByReceiver(ctx context.Context, receiver int64, limit int) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, receiver_id, type, message,
			sender_name, COALESCE(sender_id, 0), COALESCE(chatroom_id, ''),
			is_read, created_at
		FROM notifications
		WHERE receiver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, receiver, limit)
	if err != nil {
		return nil, errors.Wrap(err, "notify: list")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.ReceiverID, &n.Type, &n.Message, &n.SenderName,
			&n.SenderID, &n.ChatroomID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "notify: scan")
		}
		out = append(out, &n)
	}
	return out, errors.Wrap(rows.Err(), "notify: list")
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	rows   []*Notification
	nextID int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	n.ID = s.nextID
	cp := *n
	s.rows = append(s.rows, &cp)
	return nil
}

// ExistsBySender implements Store.
func (s *MemoryStore) ExistsBySender(_ context.Context, receiver int64, typ Type, sender int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.rows {
		if n.ReceiverID == receiver && n.Type == typ && n.SenderID == sender {
			return true, nil
		}
	}
	return false, nil
}

// DeleteBySender implements Store.
func (s *MemoryStore) DeleteBySender(_ context.Context, receiver int64, typ Type, sender int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, row := range s.rows {
		if row.ReceiverID == receiver && row.Type == typ && row.SenderID == sender {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return n, nil
}

// ListByReceiver implements Store.
func (s *MemoryStore) ListByReceiver(_ context.Context, receiver int64, limit int) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Notification
	for _, n := range s.rows {
		if n.ReceiverID == receiver {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
