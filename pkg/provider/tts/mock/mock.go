// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/auralis-ai/auralis/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
	// Text collects the fragments received on the text channel. Populated
	// asynchronously as the mock drains the channel; synchronise with
	// Provider.Wait or the closing of the audio channel before reading.
	Text []string
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex
	wg sync.WaitGroup

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// ChunkDelay, if non-zero, is the pause before each emitted chunk. Lets
	// tests keep a stream "speaking" long enough to interrupt it.
	ChunkDelay time.Duration

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []*SynthesizeStreamCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks then closes. The incoming text channel
// is drained into the call record.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	call := &SynthesizeStreamCall{Ctx: ctx, Voice: voice}
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, call)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	delay := p.ChunkDelay
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for frag := range text {
			p.mu.Lock()
			call.Text = append(call.Text, frag)
			p.mu.Unlock()
		}
	}()
	go func() {
		defer p.wg.Done()
		defer close(ch)
		for _, audio := range chunks {
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
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Wait blocks until every started stream's goroutines have finished. Call
// after closing the text channels of all streams under test.
func (p *Provider) Wait() {
	p.wg.Wait()
}

// SpokenText returns the concatenated text fragments of call i, or "" if no
// such call exists. Synchronise with Wait first.
func (p *Provider) SpokenText(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.SynthesizeStreamCalls) {
		return ""
	}
	return strings.Join(p.SynthesizeStreamCalls[i].Text, "")
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
}
