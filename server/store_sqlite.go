package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const runSQLiteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	email_count INTEGER NOT NULL,
	digest TEXT,
	error TEXT,
	trace_id TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started
ON runs(started_at);`

// SQLiteRunStoreConfig configures the SQLite run store.
type SQLiteRunStoreConfig struct {
	DSN string
}

// SQLiteRunStore persists run records in SQLite.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore opens (or creates) a SQLite-backed run store.
func NewSQLiteRunStore(cfg SQLiteRunStoreConfig) (*SQLiteRunStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("run store sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("run sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(runSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run sqlite store create schema: %w", err)
	}

	return &SQLiteRunStore{db: db}, nil
}

func (s *SQLiteRunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
SELECT id, status, trigger_kind, email_count, digest, error, trace_id, started_at, finished_at
FROM runs
ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run sqlite store list: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run sqlite store list rows: %w", err)
	}
	return records, nil
}

func (s *SQLiteRunStore) Get(ctx context.Context, id string) (RunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, status, trigger_kind, email_count, digest, error, trace_id, started_at, finished_at
FROM runs
WHERE id = ?`, id)

	rec, err := scanRunRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteRunStore) Create(ctx context.Context, rec RunRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, status, trigger_kind, email_count, digest, error, trace_id, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Status,
		rec.Trigger,
		rec.EmailCount,
		nullIfEmpty(rec.Digest),
		nullIfEmpty(rec.Error),
		nullIfEmpty(rec.TraceID),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		formatNullableTime(rec.FinishedAt),
	)
	if err != nil {
		if isRunSQLiteUniqueViolation(err) {
			return ErrRunExists
		}
		return fmt.Errorf("run sqlite store create: %w", err)
	}
	return nil
}

func (s *SQLiteRunStore) Update(ctx context.Context, rec RunRecord) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, trigger_kind = ?, email_count = ?, digest = ?, error = ?, trace_id = ?, finished_at = ?
WHERE id = ?`,
		rec.Status,
		rec.Trigger,
		rec.EmailCount,
		nullIfEmpty(rec.Digest),
		nullIfEmpty(rec.Error),
		nullIfEmpty(rec.TraceID),
		formatNullableTime(rec.FinishedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("run sqlite store update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("run sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteRunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type runScanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(scanner runScanner) (RunRecord, error) {
	var (
		id         string
		status     string
		trigger    string
		emailCount int
		digest     sql.NullString
		errMsg     sql.NullString
		traceID    sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := scanner.Scan(&id, &status, &trigger, &emailCount, &digest, &errMsg, &traceID, &startedAt, &finishedAt); err != nil {
		return RunRecord{}, err
	}

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return RunRecord{}, fmt.Errorf("run sqlite store parse started_at: %w", err)
	}

	rec := RunRecord{
		ID:         id,
		Status:     status,
		Trigger:    trigger,
		EmailCount: emailCount,
		Digest:     digest.String,
		Error:      errMsg.String,
		TraceID:    traceID.String,
		StartedAt:  started,
	}

	if finishedAt.Valid && strings.TrimSpace(finishedAt.String) != "" {
		parsed, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return RunRecord{}, fmt.Errorf("run sqlite store parse finished_at: %w", err)
		}
		rec.FinishedAt = &parsed
	}

	return rec, nil
}

func isRunSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id")
}

func formatNullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

var _ RunStore = (*SQLiteRunStore)(nil)
