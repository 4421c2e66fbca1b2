// Package postgres persists conversation turns in a PostgreSQL table.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auralis-ai/auralis/internal/history"
)

// schema creates the conversation_turns table. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id         UUID        PRIMARY KEY,
    session_id TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    metadata   JSONB,
    timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS conversation_turns_session_ts_idx
    ON conversation_turns (session_id, timestamp);`

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [history.Store]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, sessionID string, turn history.Turn) error {
	const q = `
		INSERT INTO conversation_turns (id, session_id, role, text, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		turn.ID,
		sessionID,
		string(turn.Role),
		turn.Text,
		turn.Metadata,
		turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("history store: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store]. Turns are returned in chronological
// order, newest last.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]history.Turn, error) {
	const q = `
		SELECT id, role, text, metadata, timestamp
		FROM   conversation_turns
		WHERE  session_id = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Turn, error) {
		var (
			t    history.Turn
			role string
		)
		if err := row.Scan(&t.ID, &role, &t.Text, &t.Metadata, &t.Timestamp); err != nil {
			return history.Turn{}, err
		}
		t.Role = history.Role(role)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	return turns, nil
}

// Ping verifies the database connection. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
