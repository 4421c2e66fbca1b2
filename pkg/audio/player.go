package audio

import (
	"context"
	"log/slog"
	"sync"
)

// Player consumes a synthesised PCM stream and delivers it to a [Sink],
// tracking whether playback is currently in progress. The pipeline controller
// uses the speaking flag to gate barge-in detection and ASR muting.
//
// A Player plays at most one stream at a time. Starting a new stream while
// one is active interrupts the previous stream first.
//
// All exported methods are safe for concurrent use.
type Player struct {
	sink Sink

	mu       sync.Mutex
	speaking bool
	cancel   context.CancelFunc // cancels the active playback goroutine
	gen      uint64             // playback generation, guards stale OnDone callbacks
}

// NewPlayer creates a Player that writes PCM chunks to sink.
func NewPlayer(sink Sink) *Player {
	return &Player{sink: sink}
}

// Play starts consuming audio chunks from ch and writing them to the sink in
// a background goroutine. onDone is invoked exactly once when playback ends —
// whether the stream completed, failed, or was interrupted — with interrupted
// reporting which. onDone may be nil.
//
// Sink write errors end playback early but are reported as a completed stream:
// a broken playback device must never wedge the turn-taking loop.
func (p *Player) Play(ctx context.Context, ch <-chan []byte, onDone func(interrupted bool)) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel() // interrupt any active stream
	}
	playCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.speaking = true
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	go func() {
		interrupted := p.consume(playCtx, ch)

		p.mu.Lock()
		// Only clear the flag if no newer playback superseded this one.
		if p.gen == gen {
			p.speaking = false
			p.cancel = nil
		}
		p.mu.Unlock()

		if onDone != nil {
			onDone(interrupted)
		}
	}()
}

// consume drains ch into the sink until the channel closes or playCtx is
// cancelled. Returns true if playback was interrupted rather than completed.
func (p *Player) consume(ctx context.Context, ch <-chan []byte) bool {
	for {
		select {
		case <-ctx.Done():
			if err := p.sink.Flush(); err != nil {
				slog.Warn("player: flush on interrupt failed", "err", err)
			}
			// Drain the remaining synthesis output so the TTS provider's
			// goroutine does not block on a full channel.
			go Drain(ch)
			return true
		case chunk, ok := <-ch:
			if !ok {
				return false
			}
			if err := p.sink.Write(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					go Drain(ch)
					return true
				}
				slog.Warn("player: sink write failed, abandoning stream", "err", err)
				go Drain(ch)
				return false
			}
		}
	}
}

// Stop interrupts the active playback, if any. The onDone callback passed to
// [Player.Play] fires with interrupted=true. Stop is a no-op when idle.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speaking reports whether a playback stream is currently active.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}
