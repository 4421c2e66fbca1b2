package history

import (
	"sync"
	"time"
)

const (
	defaultMaxTurns    = 200
	defaultDedupWindow = 3 * time.Second
)

// Log is the bounded in-memory conversation record. Appends evict from the
// head once the size cap is reached, and a repeat of the same role+text
// within the de-duplication window is rejected — synthesized speech leaking
// back through the microphone must not double-book turns.
//
// All methods are safe for concurrent use.
type Log struct {
	mu          sync.RWMutex
	turns       []Turn
	maxTurns    int
	dedupWindow time.Duration
	now         func() time.Time
}

// NewLog creates a Log retaining at most maxTurns entries with the given
// de-duplication window. Non-positive arguments select the defaults
// (200 turns, 3 s).
func NewLog(maxTurns int, dedupWindow time.Duration) *Log {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if dedupWindow <= 0 {
		dedupWindow = defaultDedupWindow
	}
	return &Log{
		turns:       make([]Turn, 0, maxTurns),
		maxTurns:    maxTurns,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

// Append adds a turn to the log. It returns false, without appending, when a
// turn with the same role and normalized text was already appended within the
// de-duplication window.
func (l *Log) Append(turn Turn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = l.now()
	}

	norm := normalizeText(turn.Text)
	cutoff := l.now().Add(-l.dedupWindow)
	for i := len(l.turns) - 1; i >= 0; i-- {
		prev := l.turns[i]
		if prev.Timestamp.Before(cutoff) {
			break
		}
		if prev.Role == turn.Role && normalizeText(prev.Text) == norm {
			return false
		}
	}

	l.turns = append(l.turns, turn)
	if len(l.turns) > l.maxTurns {
		// Copy to a fresh slice so evicted turns can be garbage collected.
		fresh := make([]Turn, l.maxTurns, l.maxTurns)
		copy(fresh, l.turns[len(l.turns)-l.maxTurns:])
		l.turns = fresh
	}
	return true
}

// Remove deletes the turn with the given ID, if present. Used to clear a
// transient placeholder when a session stops mid-turn.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, t := range l.turns {
		if t.ID == id {
			l.turns = append(l.turns[:i:i], l.turns[i+1:]...)
			return true
		}
	}
	return false
}

// Recent returns up to maxEntries of the most recent turns in chronological
// order (oldest first).
func (l *Log) Recent(maxEntries int) []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if maxEntries <= 0 || maxEntries > len(l.turns) {
		maxEntries = len(l.turns)
	}
	out := make([]Turn, maxEntries)
	copy(out, l.turns[len(l.turns)-maxEntries:])
	return out
}

// All returns every retained turn in chronological order.
func (l *Log) All() []Turn {
	return l.Recent(0)
}

// Len returns the number of retained turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Clear discards all turns.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = l.turns[:0]
}
