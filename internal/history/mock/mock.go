// Package mock provides a test double for [history.Store].
package mock

import (
	"context"
	"sync"

	"github.com/auralis-ai/auralis/internal/history"
)

// AppendCall records a single invocation of Store.Append.
type AppendCall struct {
	SessionID string
	Turn      history.Turn
}

// Store is an in-memory [history.Store] that records every append.
type Store struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by every Append call.
	AppendErr error

	// RecentErr, if non-nil, is returned by every Recent call.
	RecentErr error

	// AppendCalls records every call to Append in order.
	AppendCalls []AppendCall
}

// Compile-time interface assertion.
var _ history.Store = (*Store)(nil)

// Append records the call and returns AppendErr.
func (s *Store) Append(_ context.Context, sessionID string, turn history.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.AppendCalls = append(s.AppendCalls, AppendCall{SessionID: sessionID, Turn: turn})
	return nil
}

// Recent returns the recorded turns for sessionID, newest last.
func (s *Store) Recent(_ context.Context, sessionID string, limit int) ([]history.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	var turns []history.Turn
	for _, call := range s.AppendCalls {
		if call.SessionID == sessionID {
			turns = append(turns, call.Turn)
		}
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// Turns returns a copy of all appended turns regardless of session.
func (s *Store) Turns() []history.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Turn, 0, len(s.AppendCalls))
	for _, call := range s.AppendCalls {
		out = append(out, call.Turn)
	}
	return out
}

// Reset clears all recorded calls.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendCalls = nil
}
