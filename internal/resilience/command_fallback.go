package resilience

import (
	"context"

	"github.com/auralis-ai/auralis/pkg/command"
)

// CommandFallback implements [command.Processor] with automatic failover
// across multiple command processing backends. Each backend has its own
// circuit breaker.
//
// A [command.Canned] processor registered as the last fallback guarantees the
// user always hears a reply, even with every real backend down.
type CommandFallback struct {
	group *FallbackGroup[command.Processor]
}

// Compile-time interface assertion.
var _ command.Processor = (*CommandFallback)(nil)

// NewCommandFallback creates a [CommandFallback] with primary as the preferred
// backend.
func NewCommandFallback(primary command.Processor, primaryName string, cfg FallbackConfig) *CommandFallback {
	return &CommandFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional command processor as a fallback.
func (f *CommandFallback) AddFallback(name string, processor command.Processor) {
	f.group.AddFallback(name, processor)
}

// Process submits the request to the first healthy processor. Only starting
// the response stream is covered by failover; a stream that dies mid-response
// surfaces to the caller as a truncated response.
func (f *CommandFallback) Process(ctx context.Context, req command.Request) (<-chan string, error) {
	return ExecuteWithResult(f.group, func(p command.Processor) (<-chan string, error) {
		return p.Process(ctx, req)
	})
}
