package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists jobs. It shares the caller's [sql.DB].
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// NewStore creates the jobs table on db if needed. loc is the zone
// last_sent_date is computed in.
func NewStore(db *sql.DB, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{db: db, loc: loc}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("job store migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			days           TEXT NOT NULL DEFAULT '',
			once           INTEGER NOT NULL DEFAULT 0,
			hour           INTEGER NOT NULL,
			minute         INTEGER NOT NULL,
			handlers       TEXT NOT NULL,
			query          TEXT NOT NULL,
			last_sent_at   TEXT,
			last_sent_date TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(hour, minute);
		CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
	`)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

const jobColumns = `id, user_id, name, days, once, hour, minute, handlers, query, last_sent_at, created_at`

// ListDue returns jobs whose fire time is hour:minute.
func (s *Store) ListDue(ctx context.Context, hour, minute int) ([]*Job, error) {
	return s.query(ctx, "list due", `SELECT `+jobColumns+` FROM jobs WHERE hour = ? AND minute = ? ORDER BY created_at`, hour, minute)
}

// ListByUser returns the user's jobs.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Job, error) {
	return s.query(ctx, "list by user", `SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at`, userID)
}

// List returns every job.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, "list", `SELECT `+jobColumns+` FROM jobs ORDER BY user_id, created_at`)
}

// CountByUser returns how many jobs the user has.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, persistence("count by user", err)
	}
	return n, nil
}

// Get returns the job with id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistence("get", err)
	}
	return j, nil
}

// Upsert validates and stores j, assigning an ID and creation time
// when missing.
func (s *Store) Upsert(ctx context.Context, j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if j.ID == "" {
		j.ID = NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}

	handlersJSON, err := json.Marshal(j.Handlers)
	if err != nil {
		return fmt.Errorf("marshal handlers: %w", err)
	}
	lastAt, lastDate := s.sentColumns(j.LastSentAt)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, name, days, once, hour, minute, handlers, query, last_sent_at, last_sent_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			days = excluded.days,
			once = excluded.once,
			hour = excluded.hour,
			minute = excluded.minute,
			handlers = excluded.handlers,
			query = excluded.query,
			last_sent_at = excluded.last_sent_at,
			last_sent_date = excluded.last_sent_date`,
		j.ID, j.UserID, j.Name, j.Days.String(), j.Once, j.Hour, j.Minute,
		string(handlersJSON), j.Query, lastAt, lastDate,
		j.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return persistence("upsert", err)
	}
	return nil
}

// Delete removes the job with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return persistence("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastSent records an unconditional send at at.
func (s *Store) SetLastSent(ctx context.Context, id string, at time.Time) error {
	lastAt, lastDate := s.sentColumns(&at)
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET last_sent_at = ?, last_sent_date = ? WHERE id = ?`, lastAt, lastDate, id)
	if err != nil {
		return persistence("set last sent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim marks the job sent at now unless it was already sent on today.
// It reports false when another caller got there first.
func (s *Store) Claim(ctx context.Context, id string, now time.Time, today string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET last_sent_at = ?, last_sent_date = ?
		WHERE id = ? AND (last_sent_date IS NULL OR last_sent_date < ?)`,
		now.UTC().Format(time.RFC3339Nano), today, id, today)
	if err != nil {
		return false, persistence("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("claim", err)
	}
	return n == 1, nil
}

// Release restores the last-sent state j had before it was claimed.
func (s *Store) Release(ctx context.Context, j *Job) error {
	lastAt, lastDate := s.sentColumns(j.LastSentAt)
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET last_sent_at = ?, last_sent_date = ? WHERE id = ?`, lastAt, lastDate, j.ID); err != nil {
		return persistence("release", err)
	}
	return nil
}

func (s *Store) sentColumns(at *time.Time) (lastAt, lastDate sql.NullString) {
	if at == nil {
		return
	}
	return sql.NullString{String: at.UTC().Format(time.RFC3339Nano), Valid: true},
		sql.NullString{String: at.In(s.loc).Format(DateLayout), Valid: true}
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, persistence(op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var days, handlersJSON, createdAt string
	var lastSent sql.NullString

	if err := s.Scan(&j.ID, &j.UserID, &j.Name, &days, &j.Once, &j.Hour, &j.Minute,
		&handlersJSON, &j.Query, &lastSent, &createdAt); err != nil {
		return nil, err
	}

	parsed, err := ParseDays(days)
	if err != nil {
		return nil, fmt.Errorf("job %s days: %w", j.ID, err)
	}
	j.Days = parsed
	if err := json.Unmarshal([]byte(handlersJSON), &j.Handlers); err != nil {
		return nil, fmt.Errorf("job %s handlers: %w", j.ID, err)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastSent.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSent.String)
		if err == nil {
			j.LastSentAt = &t
		}
	}
	return &j, nil
}
