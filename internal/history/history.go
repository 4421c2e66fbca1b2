// Package history keeps the conversation record for a voice session.
//
// The hot path is the in-memory [Log]: an append-only, bounded list of turns
// with a short de-duplication window that swallows echo-induced repeats. An
// optional [Store] persists turns for later sessions; persistence failures
// never block the conversation.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversation entry.
type Turn struct {
	// ID is a unique identifier for this turn.
	ID string

	// Role identifies the speaker.
	Role Role

	// Text is the spoken or synthesized content.
	Text string

	// Timestamp records when the turn was appended.
	Timestamp time.Time

	// Metadata holds optional per-turn annotations (e.g., transcript
	// confidence, barge-in markers).
	Metadata map[string]string
}

// NewTurn creates a Turn with a fresh ID and the current timestamp.
func NewTurn(role Role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Store persists conversation turns beyond the in-memory log. Implementations
// must be safe for concurrent use.
type Store interface {
	// Append writes one turn under the given session.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns up to limit turns for the session, newest last.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// normalizeText canonicalizes turn text for de-duplication: lower-cased,
// trimmed, inner whitespace collapsed.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
