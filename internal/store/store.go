package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a session or event id does not exist
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps every failure of the underlying database
	ErrStorage = errors.New("storage failure")
)

// Store is the durable event store backed by SQLite.
// All writes are single-row statements; the connection pool is capped at one
// connection so statements are serialized.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	meta, err := encodeJSON(sess.Metadata, "{}")
	if err != nil {
		return wrap("encode session metadata", err)
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_name, project_path, start_time, end_time, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.ProjectName, sess.ProjectPath, toMillis(sess.StartTime),
		nullMillis(sess.EndTime), string(sess.Status), meta)
	if err != nil {
		return wrap("insert session", err)
	}
	return nil
}

// GetSession returns a session by id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_name, project_path, start_time, end_time, status, metadata
		FROM sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("scan session", err)
	}
	return sess, nil
}

// ListSessions returns sessions, newest first. An empty status lists all.
func (s *Store) ListSessions(ctx context.Context, status SessionStatus) ([]*Session, error) {
	query := `
		SELECT id, project_name, project_path, start_time, end_time, status, metadata
		FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query sessions", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrap("scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate sessions", err)
	}
	return sessions, nil
}

// CompleteSession marks a session completed with the given end time.
// An already recorded end time is kept.
func (s *Store) CompleteSession(ctx context.Context, id string, end time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, end_time = COALESCE(end_time, ?)
		WHERE id = ?
	`, string(StatusCompleted), toMillis(end), id)
	if err != nil {
		return wrap("complete session", err)
	}
	return requireRow(res, "session "+id)
}

// UpdateSessionMetadata replaces the metadata map of a session.
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]any) error {
	meta, err := encodeJSON(metadata, "{}")
	if err != nil {
		return wrap("encode session metadata", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET metadata = ? WHERE id = ?`, meta, id)
	if err != nil {
		return wrap("update session metadata", err)
	}
	return requireRow(res, "session "+id)
}

// DeleteSession purges a session; events, results and reports cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return wrap("delete session", err)
	}
	return requireRow(res, "session "+id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		startTime int64
		endTime   sql.NullInt64
		status    string
		meta      string
	)
	if err := row.Scan(&sess.ID, &sess.ProjectName, &sess.ProjectPath,
		&startTime, &endTime, &status, &meta); err != nil {
		return nil, err
	}

	sess.StartTime = fromMillis(startTime)
	sess.EndTime = fromNullMillis(endTime)
	sess.Status = SessionStatus(status)
	sess.Metadata = decodeMap(meta)
	return &sess, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func decodeMap(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
