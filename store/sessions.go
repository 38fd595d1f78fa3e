package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"meatmarket/session"
)

// SessionStore persists one client session under a fixed key.
type SessionStore struct {
	db  *DB
	key string
}

// Sessions returns a session.Persister bound to key.
func (db *DB) Sessions(key string) *SessionStore {
	return &SessionStore{db: db, key: key}
}

var _ session.Persister = (*SessionStore)(nil)

// LoadSession returns an empty snapshot when nothing was saved.
func (s *SessionStore) LoadSession(ctx context.Context) (session.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT data FROM client_sessions WHERE id=?`), s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, nil
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	var snap session.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return session.Snapshot{}, err
	}
	return snap, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Q(`INSERT INTO client_sessions (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`),
		s.key, string(data), s.db.dialect.Time(time.Now()))
	return err
}

func (s *SessionStore) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.db.Q(`DELETE FROM client_sessions WHERE id=?`), s.key)
	return err
}
