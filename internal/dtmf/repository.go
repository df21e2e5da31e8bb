package dtmf

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists the mapping table.
type Repository interface {
	Load(ctx context.Context) ([]Mapping, error)
	Save(ctx context.Context, mappings []Mapping) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load returns the saved table in routing order. A table saved empty
// loads as an empty, non-nil slice.
func (r *SQLiteRepository) Load(ctx context.Context) ([]Mapping, error) {
	var savedAt string
	err := r.db.QueryRowContext(ctx, `SELECT saved_at FROM dtmf_table_state WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoStoredMappings
	}
	if err != nil {
		return nil, fmt.Errorf("querying dtmf table state: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT tone, command, param, enabled FROM dtmf_mappings ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying dtmf mappings: %w", err)
	}
	defer rows.Close()

	mappings := []Mapping{}
	for rows.Next() {
		var (
			m       Mapping
			command string
			enabled int
		)
		if err := rows.Scan(&m.Tone, &command, &m.Param, &enabled); err != nil {
			return nil, fmt.Errorf("scanning dtmf mapping: %w", err)
		}
		m.Command = Command(command)
		m.Enabled = enabled != 0
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dtmf mappings: %w", err)
	}
	return mappings, nil
}

// Save replaces the stored table in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, mappings []Mapping) error {
	if err := ValidateMappings(mappings); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM dtmf_mappings`); err != nil {
		return fmt.Errorf("clearing dtmf mappings: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, m := range mappings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dtmf_mappings (position, tone, command, param, enabled, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			i, m.Tone, string(m.Command), m.Param, boolToInt(m.Enabled), now)
		if err != nil {
			return fmt.Errorf("inserting dtmf mapping %d: %w", i, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dtmf_table_state (id, saved_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at`, now)
	if err != nil {
		return fmt.Errorf("marking dtmf table saved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dtmf mappings: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
