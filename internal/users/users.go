// Package users tracks known bot users and the free-text memo the
// schedule handler keeps about each of them.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for unknown user ids.
var ErrNotFound = errors.New("user not found")

// User is a known bot user.
type User struct {
	ID         string    `json:"id"`
	Memo       string    `json:"memo,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Store persists users. It shares the caller's [sql.DB].
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the users table on db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("users store migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			memo         TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			last_seen_at TEXT NOT NULL
		);
	`)
	return err
}

// Touch records activity for id, creating the user when unknown.
// created reports whether this was the user's first contact.
func (s *Store) Touch(ctx context.Context, id string) (created bool, err error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, created_at, last_seen_at) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, now, id); err != nil {
		return false, fmt.Errorf("update last seen: %w", err)
	}
	return false, nil
}

// Get returns the user with id.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, memo, created_at, last_seen_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// SetMemo replaces the user's memo.
func (s *Store) SetMemo(ctx context.Context, id, memo string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET memo = ? WHERE id = ?`, memo, id)
	if err != nil {
		return fmt.Errorf("update memo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all users, oldest first.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memo, created_at, last_seen_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var created, seen string
	if err := s.Scan(&u.ID, &u.Memo, &created, &seen); err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	u.LastSeenAt, _ = time.Parse(time.RFC3339Nano, seen)
	return &u, nil
}
