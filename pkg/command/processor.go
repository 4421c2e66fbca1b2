// Package command defines the boundary to the external command processor —
// the component that turns a recognised user utterance into the text of a
// spoken response.
//
// The pipeline treats the processor as opaque: it hands over the final
// transcript together with recent conversation context and receives a stream
// of response text fragments suitable for piping straight into TTS synthesis.
// Everything behind the boundary (LLM calls, intent routing, tool execution)
// is the adapter's business.
//
// Processors may be slow and may fail; the pipeline guards every call with a
// timeout context and falls back to a canned reply when the processor errors
// or produces nothing.
package command

import (
	"context"
	"errors"
	"sync"
)

// Conversation roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoResponse indicates the processor finished without producing any
// response text. Callers should substitute a fallback reply rather than
// synthesise silence.
var ErrNoResponse = errors.New("command: processor produced no response")

// Message is a single entry of conversation context passed to the processor.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Request carries one user utterance to the command processor.
type Request struct {
	// SessionID identifies the conversation session, letting stateful
	// processors keep per-session context.
	SessionID string

	// Text is the final transcript of the user's utterance.
	Text string

	// History is the recent conversation context, oldest first. The utterance
	// in Text is NOT included.
	History []Message
}

// Processor is the abstraction over any command processing backend.
//
// Implementations must be safe for concurrent use. The pipeline issues at
// most one Process call per user turn, but an abandoned stream (barge-in) may
// still be draining while the next call starts.
type Processor interface {
	// Process submits the request and returns a read-only channel that emits
	// response text fragments as they are generated. The channel is closed by
	// the implementation when the response is complete or when ctx is
	// cancelled; cancelling ctx is the supported way to abandon a response
	// mid-generation.
	//
	// Returns a non-nil error only if the request cannot be started. A
	// started stream that fails mid-way closes the channel early; callers
	// that collected no text should treat the turn as failed.
	Process(ctx context.Context, req Request) (<-chan string, error)
}

// Collect drains a response stream into a single string. It returns
// ErrNoResponse if the stream closes without emitting any non-empty fragment,
// and ctx.Err() if the context is cancelled first.
func Collect(ctx context.Context, stream <-chan string) (string, error) {
	var out []byte
	for {
		select {
		case frag, ok := <-stream:
			if !ok {
				if len(out) == 0 {
					return "", ErrNoResponse
				}
				return string(out), nil
			}
			out = append(out, frag...)
		case <-ctx.Done():
			return string(out), ctx.Err()
		}
	}
}

// Canned is a Processor that answers every request with the next reply from a
// fixed rotation. It is the last-resort fallback when every real processor is
// unavailable, and a convenient stand-in during development.
type Canned struct {
	mu      sync.Mutex
	replies []string
	next    int
}

// Compile-time interface assertion.
var _ Processor = (*Canned)(nil)

// defaultCannedReplies keeps the conversation alive when no backend is
// reachable.
var defaultCannedReplies = []string{
	"Sorry, I didn't catch that. Could you say it again?",
	"I'm having trouble answering right now. Let's try again in a moment.",
}

// NewCanned creates a Canned processor cycling through replies. With no
// arguments a built-in default rotation is used.
func NewCanned(replies ...string) *Canned {
	if len(replies) == 0 {
		replies = defaultCannedReplies
	}
	return &Canned{replies: replies}
}

// Process returns a single-fragment stream carrying the next canned reply.
func (c *Canned) Process(ctx context.Context, _ Request) (<-chan string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	reply := c.replies[c.next%len(c.replies)]
	c.next++
	c.mu.Unlock()

	ch := make(chan string, 1)
	ch <- reply
	close(ch)
	return ch, nil
}
