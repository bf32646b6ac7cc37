package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorbotics/calliope/pkg/memory"
)

var _ memory.TranscriptStore = (*Store)(nil)

// Store is the PostgreSQL-backed transcript store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection. Suitable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendTurn implements [memory.TranscriptStore].
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn memory.Turn) error {
	const q = `
		INSERT INTO conversation_turns
		    (session_id, role, text, raw_text, confidence, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		turn.Role,
		turn.Text,
		turn.RawText,
		turn.Confidence,
		turn.Timestamp,
		turn.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("transcript store: append turn: %w", err)
	}
	return nil
}

// RecentTurns implements [memory.TranscriptStore]. Turns are returned
// chronologically, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, window time.Duration) ([]memory.Turn, error) {
	const q = `
		SELECT role, text, raw_text, confidence, timestamp, duration_ns
		FROM   conversation_turns
		WHERE  session_id = $1
		  AND  timestamp  >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, sessionID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent turns: %w", err)
	}
	return collectTurns(rows)
}

// Search implements [memory.TranscriptStore]. It performs a PostgreSQL
// full-text search over the text column and applies optional filters from
// opts.
//
// The query is passed to plainto_tsquery so no special operator syntax is
// required.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Turn, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(opts.Role))
	}

	q := "SELECT role, text, raw_text, confidence, timestamp, duration_ns\n" +
		"FROM   conversation_turns\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectTurns(rows)
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t          memory.Turn
			durationNS int64
		)
		if err := row.Scan(
			&t.Role,
			&t.Text,
			&t.RawText,
			&t.Confidence,
			&t.Timestamp,
			&durationNS,
		); err != nil {
			return memory.Turn{}, err
		}
		t.Duration = time.Duration(durationNS)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}
