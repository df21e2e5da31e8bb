// Package audit keeps the station's event log and call log in SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size limits for List and ListCalls.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one logged event.
type Entry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Station   string          `json:"station"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// CallRecord is one finished call.
type CallRecord struct {
	ID       string        `json:"id"`
	CallID   string        `json:"call_id"`
	Station  string        `json:"station"`
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
	EndedAt  time.Time     `json:"ended_at"`
}

// Filter selects log entries.
type Filter struct {
	Type   string // optional
	Since  time.Time
	Limit  int // default 50, max 200
	Offset int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores events and calls.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	RecordCall(ctx context.Context, c *CallRecord) error
	ListCalls(ctx context.Context, limit, offset int) ([]CallRecord, error)
}

// SQLiteRepository implements Repository on the event_log and call_log tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("{}")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (id, type, station, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Station, string(e.Payload), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting event log entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	var (
		conditions []string
		args       []any
	)
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM event_log " + where //nolint:gosec // conditions are fixed strings with ? placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting event log: %w", err)
	}

	query := "SELECT id, type, station, payload, created_at FROM event_log " + where + //nolint:gosec // as above
		" ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Station, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event log entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// RecordCall inserts c, filling ID and EndedAt when empty.
func (r *SQLiteRepository) RecordCall(ctx context.Context, c *CallRecord) error {
	if c.ID == "" {
		c.ID = "call-" + uuid.NewString()[:8]
	}
	if c.EndedAt.IsZero() {
		c.EndedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_log (id, call_id, station, outcome, reason, duration_ms, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CallID, c.Station, c.Outcome, nullableString(c.Reason),
		c.Duration.Milliseconds(), formatTime(c.EndedAt))
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}
	return nil
}

// ListCalls returns finished calls, most recent first.
func (r *SQLiteRepository) ListCalls(ctx context.Context, limit, offset int) ([]CallRecord, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, station, outcome, reason, duration_ms, ended_at
		 FROM call_log ORDER BY ended_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying call log: %w", err)
	}
	defer rows.Close()

	calls := []CallRecord{}
	for rows.Next() {
		var (
			c          CallRecord
			reason     sql.NullString
			durationMS int64
			endedAt    string
		)
		if err := rows.Scan(&c.ID, &c.CallID, &c.Station, &c.Outcome, &reason, &durationMS, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning call record: %w", err)
		}
		c.Reason = reason.String
		c.Duration = time.Duration(durationMS) * time.Millisecond
		if c.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call log: %w", err)
	}
	return calls, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Timestamps are stored as fixed-width UTC so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
