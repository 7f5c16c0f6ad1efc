package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"
)

// InsertFileEvent writes a file event and sets its ID.
// Writes against a purged session fail the foreign key check.
func (s *Store) InsertFileEvent(ctx context.Context, ev *FileEvent) error {
	meta, err := encodeJSON(ev.Metadata, "{}")
	if err != nil {
		return wrap("encode file event metadata", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_events (session_id, event_type, file_path, file_name, file_extension, file_size, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, string(ev.Change), ev.Path, ev.Name, ev.Extension,
		nullInt(ev.Size), toMillis(ev.Timestamp), meta)
	if err != nil {
		return wrap("insert file event", err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return wrap("file event id", err)
	}
	return nil
}

// InsertWindowEvent writes a window event and sets its ID.
func (s *Store) InsertWindowEvent(ctx context.Context, ev *WindowEvent) error {
	meta, err := encodeJSON(ev.Metadata, "{}")
	if err != nil {
		return wrap("encode window event metadata", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO window_events (session_id, window_title, app_name, app_path, process_id, timestamp, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, ev.Title, ev.AppName, ev.AppPath, ev.PID,
		toMillis(ev.Timestamp), nullInt(ev.DurationMS), meta)
	if err != nil {
		return wrap("insert window event", err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return wrap("window event id", err)
	}
	return nil
}

// SetWindowDuration records the focus duration of a window event.
// The duration is written at most once; it returns false if it was already set.
func (s *Store) SetWindowDuration(ctx context.Context, eventID int64, d time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE window_events
		SET duration_ms = ?
		WHERE id = ? AND duration_ms IS NULL
	`, d.Milliseconds(), eventID)
	if err != nil {
		return false, wrap("set window duration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("rows affected", err)
	}
	return n == 1, nil
}

// InsertCommandEvent writes a command event and sets its ID.
func (s *Store) InsertCommandEvent(ctx context.Context, ev *CommandEvent) error {
	meta, err := encodeJSON(ev.Metadata, "{}")
	if err != nil {
		return wrap("encode command event metadata", err)
	}
	env, err := encodeJSON(ev.Env, "{}")
	if err != nil {
		return wrap("encode command environment", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO command_events (session_id, command, shell, working_directory, exit_code,
			start_time, end_time, duration_ms, stdout, stderr, environment, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, ev.Command, ev.Shell, ev.WorkingDir, ev.ExitCode,
		toMillis(ev.StartTime), toMillis(ev.EndTime), ev.DurationMS,
		ev.Stdout, ev.Stderr, env, meta)
	if err != nil {
		return wrap("insert command event", err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return wrap("command event id", err)
	}
	return nil
}

// FileEvents returns a session's file events in timestamp order.
func (s *Store) FileEvents(ctx context.Context, sessionID string, q EventQuery) ([]*FileEvent, error) {
	query, args := rangeQuery(`
		SELECT id, session_id, event_type, file_path, file_name, file_extension, file_size, timestamp, metadata
		FROM file_events
		WHERE session_id = ?`, "timestamp", sessionID, q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query file events", err)
	}
	defer rows.Close()

	var events []*FileEvent
	for rows.Next() {
		var (
			ev     FileEvent
			change string
			size   sql.NullInt64
			ts     int64
			meta   string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &change, &ev.Path, &ev.Name,
			&ev.Extension, &size, &ts, &meta); err != nil {
			return nil, wrap("scan file event", err)
		}
		ev.Change = FileChange(change)
		ev.Size = fromNullInt(size)
		ev.Timestamp = fromMillis(ts)
		ev.Metadata = decodeMap(meta)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate file events", err)
	}
	return events, nil
}

// WindowEvents returns a session's window events in timestamp order.
func (s *Store) WindowEvents(ctx context.Context, sessionID string, q EventQuery) ([]*WindowEvent, error) {
	query, args := rangeQuery(`
		SELECT id, session_id, window_title, app_name, app_path, process_id, timestamp, duration_ms, metadata
		FROM window_events
		WHERE session_id = ?`, "timestamp", sessionID, q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query window events", err)
	}
	defer rows.Close()

	var events []*WindowEvent
	for rows.Next() {
		var (
			ev       WindowEvent
			ts       int64
			duration sql.NullInt64
			meta     string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Title, &ev.AppName, &ev.AppPath,
			&ev.PID, &ts, &duration, &meta); err != nil {
			return nil, wrap("scan window event", err)
		}
		ev.Timestamp = fromMillis(ts)
		ev.DurationMS = fromNullInt(duration)
		ev.Metadata = decodeMap(meta)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate window events", err)
	}
	return events, nil
}

// CommandEvents returns a session's command events in start-time order.
func (s *Store) CommandEvents(ctx context.Context, sessionID string, q EventQuery) ([]*CommandEvent, error) {
	query, args := rangeQuery(`
		SELECT id, session_id, command, shell, working_directory, exit_code, start_time, end_time,
			duration_ms, stdout, stderr, environment, metadata
		FROM command_events
		WHERE session_id = ?`, "start_time", sessionID, q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query command events", err)
	}
	defer rows.Close()

	var events []*CommandEvent
	for rows.Next() {
		var (
			ev         CommandEvent
			start, end int64
			env, meta  string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Command, &ev.Shell, &ev.WorkingDir,
			&ev.ExitCode, &start, &end, &ev.DurationMS, &ev.Stdout, &ev.Stderr, &env, &meta); err != nil {
			return nil, wrap("scan command event", err)
		}
		ev.StartTime = fromMillis(start)
		ev.EndTime = fromMillis(end)
		if env != "" && env != "{}" {
			_ = json.Unmarshal([]byte(env), &ev.Env)
		}
		ev.Metadata = decodeMap(meta)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate command events", err)
	}
	return events, nil
}

// SessionEvents returns the merged event stream of a session sorted by
// timestamp. A limit keeps the most recent events.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, q EventQuery) ([]Event, error) {
	perKind := q
	perKind.Limit = 0

	var events []Event
	if q.wants(KindFile) {
		files, err := s.FileEvents(ctx, sessionID, perKind)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			events = append(events, FileEventOf(f))
		}
	}
	if q.wants(KindWindow) {
		windows, err := s.WindowEvents(ctx, sessionID, perKind)
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			events = append(events, WindowEventOf(w))
		}
	}
	if q.wants(KindCommand) {
		commands, err := s.CommandEvents(ctx, sessionID, perKind)
		if err != nil {
			return nil, err
		}
		for _, c := range commands {
			events = append(events, CommandEventOf(c))
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	if q.Limit > 0 && len(events) > q.Limit {
		events = events[len(events)-q.Limit:]
	}
	return events, nil
}

// rangeQuery appends the time range, ordering and limit of q to base.
func rangeQuery(base, tsColumn, sessionID string, q EventQuery) (string, []any) {
	query := base
	args := []any{sessionID}
	if !q.Since.IsZero() {
		query += " AND " + tsColumn + " >= ?"
		args = append(args, toMillis(q.Since))
	}
	if !q.Until.IsZero() {
		query += " AND " + tsColumn + " < ?"
		args = append(args, toMillis(q.Until))
	}
	if q.Limit > 0 {
		// Most recent N, re-sorted ascending
		query = "SELECT * FROM (" + query + " ORDER BY " + tsColumn + " DESC, id DESC LIMIT ?) ORDER BY " + tsColumn + " ASC, id ASC"
		args = append(args, q.Limit)
		return query, args
	}
	query += " ORDER BY " + tsColumn + " ASC, id ASC"
	return query, args
}
