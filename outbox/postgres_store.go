package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key
const uniqueViolation = "23505"

// PostgresStore implements Store backed by the outbox_entries table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enqueue inserts entries in a single transaction
func (s *PostgresStore) Enqueue(ctx context.Context, entries ...*Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, e := range entries {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		status := e.Status
		if status == "" {
			status = StatusPending
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_entries (id, rule_name, action_type, action, content_hash, triggered_at, status, created_at, dispatched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.RuleName, e.ActionType, []byte(e.Action), e.ContentHash,
			e.TriggeredAt, string(status), createdAt, e.DispatchedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
			}
			return fmt.Errorf("failed to insert outbox entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outbox entries: %w", err)
	}
	return nil
}

// Pending returns pending entries ordered by creation time
func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]*Entry, error) {
	query := `
		SELECT id, rule_name, action_type, action, content_hash, triggered_at, status, created_at, dispatched_at
		FROM outbox_entries
		WHERE status = 'pending'
		ORDER BY created_at ASC, seq ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox entries: %w", err)
	}

	return entries, nil
}

// MarkDispatched flips an entry to dispatched
func (s *PostgresStore) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = 'dispatched', dispatched_at = $1
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry dispatched: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// Get retrieves an entry by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rule_name, action_type, action, content_hash, triggered_at, status, created_at, dispatched_at
		FROM outbox_entries
		WHERE id = $1
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox entry: %w", err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e            Entry
		action       []byte
		status       string
		dispatchedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.RuleName, &e.ActionType, &action, &e.ContentHash,
		&e.TriggeredAt, &status, &e.CreatedAt, &dispatchedAt); err != nil {
		return nil, err
	}

	e.Action = action
	e.Status = Status(status)
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		e.DispatchedAt = &t
	}
	return &e, nil
}
