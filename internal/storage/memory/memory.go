// Package memory is an in-process users/watermarks store with the same
// transactional contract as the Postgres store: watermark writes become
// visible on Commit and are dropped on Rollback.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"example.com/userexports/internal/domain"
)

var ErrSessionClosed = errors.New("memory: session already closed")

type Store struct {
	mu         sync.Mutex
	users      map[int64]domain.User
	nextID     int64
	watermarks map[string]domain.Watermark
	now        func() time.Time

	// FailUpsert, when set, is returned by every session UpsertWatermark.
	FailUpsert error
	// FailCommit, when set, is returned by Commit.
	FailCommit error
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		users:      make(map[int64]domain.User),
		watermarks: make(map[string]domain.Watermark),
		now:        now,
	}
}

// AddUser stores u with a fresh id and returns the id.
func (s *Store) AddUser(u domain.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = s.nextID
	s.users[u.ID] = u
	return u.ID
}

// UpdateUser applies fn to the row with the given id. It reports whether the row exists.
func (s *Store) UpdateUser(id int64, fn func(*domain.User)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false
	}
	fn(&u)
	s.users[id] = u
	return true
}

func (s *Store) CountUsers(_ context.Context, sel domain.Selection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.selectLocked(sel))), nil
}

// GetWatermark reads committed state.
func (s *Store) GetWatermark(_ context.Context, consumerID string) (*domain.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[consumerID]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

// UpsertWatermark writes outside any session.
func (s *Store) UpsertWatermark(_ context.Context, consumerID string, lastExportedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[consumerID] = domain.Watermark{ConsumerID: consumerID, LastExportedAt: lastExportedAt, UpdatedAt: s.now()}
	return nil
}

func (s *Store) SelectUsers(_ context.Context, sel domain.Selection) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(sel), nil
}

func (s *Store) selectLocked(sel domain.Selection) []domain.User {
	var out []domain.User
	for _, u := range s.users {
		if u.IsDeleted && !sel.IncludeDeleted {
			continue
		}
		if sel.Since != nil && !u.UpdatedAt.After(*sel.Since) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Begin opens a session. Reads see committed state plus the session's own writes.
func (s *Store) Begin(_ context.Context) (*Session, error) {
	return &Session{store: s, pending: make(map[string]time.Time)}, nil
}

type Session struct {
	store   *Store
	pending map[string]time.Time
	closed  bool
}

func (ss *Session) GetWatermark(ctx context.Context, consumerID string) (*domain.Watermark, error) {
	if ss.closed {
		return nil, ErrSessionClosed
	}
	if ts, ok := ss.pending[consumerID]; ok {
		return &domain.Watermark{ConsumerID: consumerID, LastExportedAt: ts, UpdatedAt: ss.store.now()}, nil
	}
	return ss.store.GetWatermark(ctx, consumerID)
}

func (ss *Session) UpsertWatermark(_ context.Context, consumerID string, lastExportedAt time.Time) error {
	if ss.closed {
		return ErrSessionClosed
	}
	if ss.store.FailUpsert != nil {
		return ss.store.FailUpsert
	}
	ss.pending[consumerID] = lastExportedAt
	return nil
}

func (ss *Session) SelectUsers(ctx context.Context, sel domain.Selection) ([]domain.User, error) {
	if ss.closed {
		return nil, ErrSessionClosed
	}
	return ss.store.SelectUsers(ctx, sel)
}

func (ss *Session) Commit(ctx context.Context) error {
	if ss.closed {
		return ErrSessionClosed
	}
	ss.closed = true
	if ss.store.FailCommit != nil {
		return ss.store.FailCommit
	}
	for id, ts := range ss.pending {
		if err := ss.store.UpsertWatermark(ctx, id, ts); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards pending writes. It is a no-op on a closed session.
func (ss *Session) Rollback(_ context.Context) error {
	ss.closed = true
	ss.pending = nil
	return nil
}
