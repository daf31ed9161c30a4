package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore is a SQLite-backed Store. It shares the caller's [sql.DB].
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the conversation table on db if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memory store migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_messages (
			user_id   TEXT NOT NULL,
			seq       INTEGER NOT NULL,
			role      TEXT NOT NULL,
			content   TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (user_id, seq)
		);
	`)
	return err
}

// Load returns the user's window oldest-first.
func (s *SQLiteStore) Load(ctx context.Context, userID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM conversation_messages
		WHERE user_id = ?
		ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load window: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", ErrPersistence, err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load window: %w", ErrPersistence, err)
	}
	return msgs, nil
}

// Save replaces the user's window in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, userID string, window []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%w: clear window: %w", ErrPersistence, err)
	}
	for i, m := range window {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (user_id, seq, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			userID, i, m.Role, m.Content, m.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("%w: insert message: %w", ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

// Clear drops the user's window.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%w: clear window: %w", ErrPersistence, err)
	}
	return nil
}
