package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// InsertAnalysis appends an analysis result and sets its ID.
func (s *Store) InsertAnalysis(ctx context.Context, r *AnalysisResult) error {
	keyLines, err := encodeJSON(r.KeyLines, "[]")
	if err != nil {
		return wrap("encode key lines", err)
	}
	keyPhrases, err := encodeJSON(r.KeyPhrases, "[]")
	if err != nil {
		return wrap("encode key phrases", err)
	}
	meta, err := encodeJSON(r.Metadata, "{}")
	if err != nil {
		return wrap("encode analysis metadata", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (session_id, event_id, event_type, analysis_type, summary,
			key_lines, key_phrases, confidence, ai_model, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SessionID, nullInt(r.EventID), string(r.EventKind), r.AnalysisType, r.Summary,
		keyLines, keyPhrases, r.Confidence, r.Model, toMillis(r.CreatedAt), meta)
	if err != nil {
		return wrap("insert analysis result", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return wrap("analysis result id", err)
	}
	return nil
}

// AnalysisForSession returns a session's analysis results, oldest first.
func (s *Store) AnalysisForSession(ctx context.Context, sessionID string) ([]*AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_id, event_type, analysis_type, summary, key_lines, key_phrases,
			confidence, ai_model, created_at, metadata
		FROM analysis_results
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, wrap("query analysis results", err)
	}
	defer rows.Close()

	var results []*AnalysisResult
	for rows.Next() {
		var (
			r                    AnalysisResult
			eventID              sql.NullInt64
			kind                 string
			keyLines, keyPhrases string
			created              int64
			meta                 string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &eventID, &kind, &r.AnalysisType, &r.Summary,
			&keyLines, &keyPhrases, &r.Confidence, &r.Model, &created, &meta); err != nil {
			return nil, wrap("scan analysis result", err)
		}
		r.EventID = fromNullInt(eventID)
		r.EventKind = EventKind(kind)
		_ = json.Unmarshal([]byte(keyLines), &r.KeyLines)
		_ = json.Unmarshal([]byte(keyPhrases), &r.KeyPhrases)
		r.CreatedAt = fromMillis(created)
		r.Metadata = decodeMap(meta)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate analysis results", err)
	}
	return results, nil
}

// InsertReport appends a generated report and sets its ID.
func (s *Store) InsertReport(ctx context.Context, r *Report) error {
	meta, err := encodeJSON(r.Metadata, "{}")
	if err != nil {
		return wrap("encode report metadata", err)
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (session_id, report_type, title, content, format, generated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SessionID, r.Type, r.Title, r.Content, r.Format, toMillis(r.GeneratedAt), meta)
	if err != nil {
		return wrap("insert report", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return wrap("report id", err)
	}
	return nil
}

// ReportsForSession returns a session's reports, newest first.
func (s *Store) ReportsForSession(ctx context.Context, sessionID string) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, report_type, title, content, format, generated_at, metadata
		FROM reports
		WHERE session_id = ?
		ORDER BY generated_at DESC, id DESC
	`, sessionID)
	if err != nil {
		return nil, wrap("query reports", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var (
			r         Report
			generated int64
			meta      string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Type, &r.Title, &r.Content,
			&r.Format, &generated, &meta); err != nil {
			return nil, wrap("scan report", err)
		}
		r.GeneratedAt = fromMillis(generated)
		r.Metadata = decodeMap(meta)
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate reports", err)
	}
	return reports, nil
}

// SessionStats aggregates event counts for a session.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats := &SessionStats{
		SessionID:  sessionID,
		DurationMS: sess.Duration(time.Now()).Milliseconds(),
	}

	var (
		first, last sql.NullInt64
		windowTime  sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM file_events WHERE session_id = ?1),
			(SELECT COUNT(*) FROM window_events WHERE session_id = ?1),
			(SELECT COUNT(*) FROM command_events WHERE session_id = ?1),
			(SELECT COUNT(*) FROM command_events WHERE session_id = ?1 AND exit_code != 0),
			(SELECT SUM(duration_ms) FROM window_events WHERE session_id = ?1),
			(SELECT COUNT(*) FROM analysis_results WHERE session_id = ?1),
			(SELECT COUNT(*) FROM reports WHERE session_id = ?1),
			(SELECT MIN(ts) FROM (
				SELECT MIN(timestamp) AS ts FROM file_events WHERE session_id = ?1
				UNION ALL SELECT MIN(timestamp) FROM window_events WHERE session_id = ?1
				UNION ALL SELECT MIN(start_time) FROM command_events WHERE session_id = ?1)),
			(SELECT MAX(ts) FROM (
				SELECT MAX(timestamp) AS ts FROM file_events WHERE session_id = ?1
				UNION ALL SELECT MAX(timestamp) FROM window_events WHERE session_id = ?1
				UNION ALL SELECT MAX(start_time) FROM command_events WHERE session_id = ?1))
	`, sessionID)
	if err := row.Scan(&stats.FileEvents, &stats.WindowEvents, &stats.CommandEvents,
		&stats.FailedCommands, &windowTime, &stats.AnalysisResults, &stats.Reports,
		&first, &last); err != nil {
		return nil, wrap("scan session stats", err)
	}

	stats.TotalEvents = stats.FileEvents + stats.WindowEvents + stats.CommandEvents
	if windowTime.Valid {
		stats.WindowTimeMS = windowTime.Int64
	}
	stats.FirstEvent = fromNullMillis(first)
	stats.LastEvent = fromNullMillis(last)
	return stats, nil
}
