// Package postgres provides a PostgreSQL-backed [memory.TranscriptStore].
//
// The store holds a single [pgxpool.Pool] and keeps one append-only
// conversation_turns table with a GIN full-text search index. [Migrate]
// runs on every start and is idempotent.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.AppendTurn(ctx, sessionID, turn)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    raw_text    TEXT         NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_id
    ON conversation_turns (session_id);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_timestamp
    ON conversation_turns (timestamp);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_timestamp
    ON conversation_turns (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_fts
    ON conversation_turns USING GIN (to_tsvector('english', text));
`

// Migrate creates or ensures the conversation_turns table and its indexes
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationTurns); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
