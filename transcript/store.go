// Package transcript persists the session's chat events and sent replies
// to a local SQLite database so a stream can be reviewed after the fact.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onnwee/reply-tender/event"
)

// Entry is one recorded chat event.
type Entry struct {
	ID          int64
	EventID     string
	Kind        string
	UserID      string
	DisplayName string
	Text        string
	ReceivedAt  time.Time
}

// Reply is one recorded outbound reply.
type Reply struct {
	ID            int64
	Mode          string
	Text          string
	SourceEventID string
	SentAt        time.Time
}

// Store wraps the transcript database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the transcript database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL,
			user_id TEXT,
			display_name TEXT,
			text TEXT,
			received_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chat_events table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_chat_events_received ON chat_events(received_at)`)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS replies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mode TEXT NOT NULL,
			text TEXT NOT NULL,
			source_event_id TEXT,
			sent_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create replies table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_replies_sent ON replies(sent_at)`)

	return &Store{db: db}, nil
}

// RecordEvent stores ev. Duplicate event ids are ignored so replayed
// frames do not double-write.
func (s *Store) RecordEvent(ctx context.Context, ev event.ChatEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_events (event_id, kind, user_id, display_name, text, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Kind.String(), ev.UserID, ev.DisplayName, ev.Text(), ev.ReceivedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecordReply stores a sent reply.
func (s *Store) RecordReply(ctx context.Context, mode, text, sourceEventID string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (mode, text, source_event_id, sent_at)
		VALUES (?, ?, ?, ?)
	`, mode, text, sourceEventID, sentAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}
	return nil
}

// Events returns recorded events in [from, to], oldest first, capped at
// limit (default 100 when limit <= 0). A zero `to` means now.
func (s *Store) Events(ctx context.Context, from, to time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, kind, user_id, display_name, text, received_at
		FROM chat_events
		WHERE received_at >= ? AND received_at <= ?
		ORDER BY received_at ASC, id ASC
		LIMIT ?
	`, from.Unix(), to.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var received int64
		if err := rows.Scan(&e.ID, &e.EventID, &e.Kind, &e.UserID, &e.DisplayName, &e.Text, &received); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.ReceivedAt = time.Unix(received, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Replies returns the most recent replies, newest first, capped at limit
// (default 100 when limit <= 0).
func (s *Store) Replies(ctx context.Context, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, text, source_event_id, sent_at
		FROM replies
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies: %w", err)
	}
	defer rows.Close()

	var out []Reply
	for rows.Next() {
		var r Reply
		var sent int64
		if err := rows.Scan(&r.ID, &r.Mode, &r.Text, &r.SourceEventID, &sent); err != nil {
			return nil, fmt.Errorf("failed to scan reply: %w", err)
		}
		r.SentAt = time.Unix(sent, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CleanupBefore deletes events and replies recorded before the cutoff and
// returns the number of rows removed.
func (s *Store) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_events WHERE received_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	n, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM replies WHERE sent_at < ?`, cutoff.Unix())
	if err != nil {
		return n, fmt.Errorf("failed to cleanup replies: %w", err)
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

// RunRetention deletes rows older than window, once immediately and then on
// every interval tick, until ctx is cancelled. Run it in its own goroutine.
func (s *Store) RunRetention(ctx context.Context, window, interval time.Duration) {
	if window <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	sweep := func() {
		n, err := s.CleanupBefore(ctx, time.Now().Add(-window))
		if err != nil {
			slog.Warn("transcript retention sweep failed", slog.Any("err", err))
			return
		}
		if n > 0 {
			slog.Debug("transcript retention sweep", slog.Int64("rows", n))
		}
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
