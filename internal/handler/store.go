package handler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunRecord is a persisted handler invocation.
type RunRecord struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	Handler      string         `json:"handler"`
	Model        string         `json:"model"`
	Status       Status         `json:"status"`
	Turns        int            `json:"turns"`
	MaxTurns     int            `json:"max_turns"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	ToolsCalled  map[string]int `json:"tools_called,omitempty"`
	Input        string         `json:"input"`
	Answer       string         `json:"answer"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	DurationMs   int64          `json:"duration_ms"`
	Error        string         `json:"error,omitempty"`
}

// RunStore persists handler runs. It shares the caller's [sql.DB] and
// creates its own table on initialization.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store on db.
func NewRunStore(db *sql.DB) (*RunStore, error) {
	s := &RunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("run store migrate: %w", err)
	}
	return s, nil
}

func (s *RunStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS handler_runs (
			id            TEXT PRIMARY KEY,
			user_id       TEXT,
			handler       TEXT NOT NULL,
			model         TEXT NOT NULL,
			status        TEXT NOT NULL,
			turns         INTEGER NOT NULL,
			max_turns     INTEGER NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			tools_called  TEXT,
			input         TEXT,
			answer        TEXT,
			started_at    TEXT NOT NULL,
			completed_at  TEXT NOT NULL,
			duration_ms   INTEGER NOT NULL,
			error         TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_handler_runs_started
			ON handler_runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_handler_runs_handler
			ON handler_runs(handler, status);
	`)
	return err
}

// Record inserts a run.
func (s *RunStore) Record(rec *RunRecord) error {
	toolsJSON, err := json.Marshal(rec.ToolsCalled)
	if err != nil {
		return fmt.Errorf("marshal tools_called: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO handler_runs (
			id, user_id, handler, model, status, turns, max_turns,
			input_tokens, output_tokens, tools_called, input, answer,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Handler, rec.Model, string(rec.Status),
		rec.Turns, rec.MaxTurns,
		rec.InputTokens, rec.OutputTokens,
		string(toolsJSON), rec.Input, rec.Answer,
		rec.StartedAt.Format(time.RFC3339Nano),
		rec.CompletedAt.Format(time.RFC3339Nano),
		rec.DurationMs, rec.Error,
	)
	return err
}

// Get returns the run with id.
func (s *RunStore) Get(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, handler, model, status, turns, max_turns,
			input_tokens, output_tokens, tools_called, input, answer,
			started_at, completed_at, duration_ms, error
		FROM handler_runs WHERE id = ?`, id)
	return scanInto(row)
}

// List returns runs newest-first. A zero limit returns all of them.
func (s *RunStore) List(limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, user_id, handler, model, status, turns, max_turns,
			input_tokens, output_tokens, tools_called, input, answer,
			started_at, completed_at, duration_ms, error
		FROM handler_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner) (*RunRecord, error) {
	var rec RunRecord
	var status string
	var userID, toolsJSON, input, answer, errStr sql.NullString
	var startedAt, completedAt string

	err := s.Scan(
		&rec.ID, &userID, &rec.Handler, &rec.Model, &status,
		&rec.Turns, &rec.MaxTurns,
		&rec.InputTokens, &rec.OutputTokens,
		&toolsJSON, &input, &answer,
		&startedAt, &completedAt,
		&rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.UserID = userID.String
	rec.Input = input.String
	rec.Answer = answer.String
	rec.Error = errStr.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)

	if toolsJSON.Valid && toolsJSON.String != "" && toolsJSON.String != "null" {
		_ = json.Unmarshal([]byte(toolsJSON.String), &rec.ToolsCalled)
	}
	return &rec, nil
}
