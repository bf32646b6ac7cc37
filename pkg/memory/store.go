// Package memory defines the conversation transcript store.
//
// The session controller appends one [Turn] per utterance and reads recent
// turns back as chat history for the language model, so a restarted device
// can pick a conversation up where it left off. Search exists for the
// operator surface, not the hot path.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// SearchOpts configures a keyword search over stored turns. All non-zero
// fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session. An empty string
	// searches across all sessions.
	SessionID string

	// After filters turns recorded after this instant (exclusive). A zero
	// Time disables the lower bound.
	After time.Time

	// Before filters turns recorded before this instant (exclusive). A zero
	// Time disables the upper bound.
	Before time.Time

	// Role restricts results to turns with this role. Empty matches both.
	Role string

	// Limit caps the number of results returned. A value of 0 means the
	// implementation may apply its own default.
	Limit int
}

// TranscriptStore is a time-ordered, append-only log of conversation turns
// keyed by session.
//
// Turns must be returned in chronological order unless otherwise specified.
// Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// AppendTurn appends a turn to the store for the given session.
	// sessionID must be non-empty. Returns an error only on persistent
	// storage failure.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error

	// RecentTurns returns all turns for the given session whose Timestamp
	// is no earlier than time.Now()-window. Returns an empty (non-nil)
	// slice when no matching turns exist.
	RecentTurns(ctx context.Context, sessionID string, window time.Duration) ([]Turn, error)

	// Search performs keyword search over stored turns. The query string is
	// matched against the Text field; opts refines the result set by time
	// range, role, or session scope. Returns an empty (non-nil) slice when
	// no turns match.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Turn, error)
}
