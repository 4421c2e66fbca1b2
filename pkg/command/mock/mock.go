// Package mock provides a test double for the command.Processor interface.
//
// Use Processor to feed scripted response fragments to consumers and verify
// the requests that reached the backend.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/auralis-ai/auralis/pkg/command"
)

// Processor is a mock implementation of command.Processor.
type Processor struct {
	mu sync.Mutex

	// Fragments is the sequence of text fragments emitted for every request.
	Fragments []string

	// FragmentDelay, if non-zero, is the pause before each emitted fragment.
	// Lets tests hold the pipeline in its processing state long enough to
	// interrupt it.
	FragmentDelay time.Duration

	// ProcessErr, if non-nil, is returned as the error from Process.
	ProcessErr error

	// Requests records every request passed to Process in order.
	Requests []command.Request
}

// Compile-time interface assertion.
var _ command.Processor = (*Processor)(nil)

// Process records the request and returns a channel that emits Fragments then
// closes.
func (p *Processor) Process(ctx context.Context, req command.Request) (<-chan string, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	if p.ProcessErr != nil {
		err := p.ProcessErr
		p.mu.Unlock()
		return nil, err
	}
	frags := make([]string, len(p.Fragments))
	copy(frags, p.Fragments)
	delay := p.FragmentDelay
	p.mu.Unlock()

	ch := make(chan string, len(frags))
	go func() {
		defer close(ch)
		for _, frag := range frags {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- frag:
			}
		}
	}()
	return ch, nil
}

// RequestCount returns the number of recorded Process calls. Thread-safe.
func (p *Processor) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Reset clears all recorded requests. Thread-safe.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = nil
}
