package match

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pairKey struct{ lo, hi int64 }

func keyOf(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type memState struct {
	rows   map[int64]*Match
	pairs  map[pairKey]int64
	nextID int64
}

func (s *memState) clone() *memState {
	c := &memState{
		rows:   make(map[int64]*Match, len(s.rows)),
		pairs:  make(map[pairKey]int64, len(s.pairs)),
		nextID: s.nextID,
	}
	for id, m := range s.rows {
		c.rows[id] = m.Clone()
	}
	for k, id := range s.pairs {
		c.pairs[k] = id
	}
	return c
}

// MemoryStore is an in-process Store. Transactions are serialized and work
// on a private copy that replaces the committed state only when fn
// succeeds.
type MemoryStore struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		state: &memState{rows: map[int64]*Match{}, pairs: map[pairKey]int64{}},
		now:   now,
	}
}

// WithinTx implements Store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.rows[id].Clone(), nil
}

// FindPair implements Store.
func (s *MemoryStore) FindPair(_ context.Context, a, b int64) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.pairs[keyOf(a, b)]
	if !ok {
		return nil, nil
	}
	return s.state.rows[id].Clone(), nil
}

// ListByUser implements Store. Results are ordered newest first.
func (s *MemoryStore) ListByUser(_ context.Context, user int64) ([]*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Match
	for _, m := range s.state.rows {
		if m.IsParticipant(user) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteUnfinalizedByUser implements Store.
func (s *MemoryStore) DeleteUnfinalizedByUser(ctx context.Context, user int64) ([]*Match, error) {
	var removed []*Match
	err := s.WithinTx(ctx, func(tx Tx) error {
		st := tx.(*memTx).st
		for id, m := range st.rows {
			if m.IsParticipant(user) && m.Status == StatusPending {
				delete(st.pairs, keyOf(m.SenderID, m.ReceiverID))
				delete(st.rows, id)
				removed = append(removed, m.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.rows)
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) FindPairForUpdate(_ context.Context, a, b int64) (*Match, error) {
	id, ok := t.st.pairs[keyOf(a, b)]
	if !ok {
		return nil, nil
	}
	return t.st.rows[id].Clone(), nil
}

func (t *memTx) FindForUpdate(_ context.Context, id int64) (*Match, error) {
	return t.st.rows[id].Clone(), nil
}

func (t *memTx) Insert(_ context.Context, m *Match) error {
	k := keyOf(m.SenderID, m.ReceiverID)
	if _, ok := t.st.pairs[k]; ok {
		return ErrDuplicatePair
	}
	t.st.nextID++
	m.ID = t.st.nextID
	m.Version = 1
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	t.st.rows[m.ID] = m.Clone()
	t.st.pairs[k] = m.ID
	return nil
}

func (t *memTx) Update(_ context.Context, m *Match) error {
	cur, ok := t.st.rows[m.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != m.Version {
		return ErrStaleVersion
	}
	m.Version++
	t.st.rows[m.ID] = m.Clone()
	return nil
}

func (t *memTx) Delete(_ context.Context, id int64) error {
	m, ok := t.st.rows[id]
	if !ok {
		return ErrNotFound
	}
	delete(t.st.pairs, keyOf(m.SenderID, m.ReceiverID))
	delete(t.st.rows, id)
	return nil
}
