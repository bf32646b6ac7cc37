// Package mock provides an in-memory test double for the
// memory.TranscriptStore interface.
//
// Unlike a pure call recorder, Store actually keeps the appended turns so
// session tests can verify the chat history fed back to the model. Set the
// Err fields to inject failures.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/memory"
)

// Store is an in-memory implementation of [memory.TranscriptStore]. It is
// safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// turns maps session ID to its chronological turn log.
	turns map[string][]memory.Turn

	// AppendErr is returned by AppendTurn when non-nil.
	AppendErr error

	// ReadErr is returned by RecentTurns and Search when non-nil.
	ReadErr error
}

var _ memory.TranscriptStore = (*Store)(nil)

// AppendTurn implements [memory.TranscriptStore]. Turns with a zero
// Timestamp are stamped with the current time.
func (s *Store) AppendTurn(_ context.Context, sessionID string, turn memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if s.turns == nil {
		s.turns = map[string][]memory.Turn{}
	}
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// RecentTurns implements [memory.TranscriptStore].
func (s *Store) RecentTurns(_ context.Context, sessionID string, window time.Duration) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	cutoff := time.Now().Add(-window)
	out := []memory.Turn{}
	for _, t := range s.turns[sessionID] {
		if !t.Timestamp.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Search implements [memory.TranscriptStore] with case-insensitive substring
// matching in place of full-text search.
func (s *Store) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}

	out := []memory.Turn{}
	q := strings.ToLower(query)
	for sessionID, turns := range s.turns {
		if opts.SessionID != "" && sessionID != opts.SessionID {
			continue
		}
		for _, t := range turns {
			if !strings.Contains(strings.ToLower(t.Text), q) {
				continue
			}
			if opts.Role != "" && t.Role != opts.Role {
				continue
			}
			if !opts.After.IsZero() && !t.Timestamp.After(opts.After) {
				continue
			}
			if !opts.Before.IsZero() && !t.Timestamp.Before(opts.Before) {
				continue
			}
			out = append(out, t)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Turns returns a copy of the turn log for sessionID.
func (s *Store) Turns(sessionID string) []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Turn, len(s.turns[sessionID]))
	copy(out, s.turns[sessionID])
	return out
}
