// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	src := mock.NewSource()
//	frames, _ := src.StartStream(ctx, audio.DefaultStreamConfig())
//	src.Push(mock.SilenceFrame(cfg))
//	src.CloseStream() // simulate an unexpected device failure
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/auralis-ai/auralis/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a scripted mock implementation of [audio.Source]. Tests push
// frames through it and can close the stream to simulate device failure.
type Source struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by StartStream.
	StartError error

	// CallCountStart records how many times StartStream was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	ch     chan audio.Frame
	closed bool
}

var _ audio.Source = (*Source)(nil)

// NewSource creates an idle mock Source.
func NewSource() *Source { return &Source{} }

// StartStream implements [audio.Source]. It returns a fresh frame channel
// that the test feeds via [Source.Push].
func (s *Source) StartStream(_ context.Context, _ audio.StreamConfig) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return nil, s.StartError
	}
	if s.ch != nil && !s.closed {
		return nil, errors.New("mock source: stream already active")
	}
	s.ch = make(chan audio.Frame, 256)
	s.closed = false
	return s.ch, nil
}

// Stop implements [audio.Source]. It closes the active stream channel.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.closeLocked()
	return nil
}

// Push delivers a frame to the active stream. Frames pushed while no stream
// is active are dropped.
func (s *Source) Push(f audio.Frame) {
	s.mu.Lock()
	ch := s.ch
	closed := s.closed
	s.mu.Unlock()
	if ch == nil || closed {
		return
	}
	ch <- f
}

// CloseStream closes the frame channel without a Stop call, simulating an
// unexpected device failure mid-recording.
func (s *Source) CloseStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Source) closeLocked() {
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] that records written chunks.
type Sink struct {
	mu sync.Mutex

	// WriteError, when non-nil, is returned by every Write call.
	WriteError error

	// WriteDelay, when non-zero, makes each Write block for the given duration
	// (respecting ctx). Used to simulate slow playback devices.
	WriteDelay time.Duration

	// Written holds every chunk passed to Write, in order.
	Written [][]byte

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Sink = (*Sink)(nil)

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, pcm []byte) error {
	if s.WriteDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.WriteDelay):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Written = append(s.Written, cp)
	return nil
}

// Flush implements [audio.Sink].
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Chunks returns a snapshot of the chunks written so far.
func (s *Sink) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Written))
	copy(out, s.Written)
	return out
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// SilenceFrame returns an all-zero frame matching cfg.
func SilenceFrame(cfg audio.StreamConfig) audio.Frame {
	return audio.Frame{
		PCM:        make([]byte, cfg.FrameBytes()),
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}
}

// ToneFrame returns a frame filled with a constant sample amplitude, loud
// enough to exceed typical energy VAD thresholds.
func ToneFrame(cfg audio.StreamConfig, amplitude int16) audio.Frame {
	pcm := make([]byte, cfg.FrameBytes())
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i] = byte(amplitude)
		pcm[i+1] = byte(amplitude >> 8)
	}
	return audio.Frame{
		PCM:        pcm,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}
}
