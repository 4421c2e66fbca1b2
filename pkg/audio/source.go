// Package audio defines the device abstractions and frame types for the
// Auralis capture and playback path.
//
// The two primary abstractions are:
//
//   - [Source] — an audio capture device (microphone, remote stream) that
//     delivers fixed-size PCM frames on a channel.
//   - [Sink] — an audio playback device that accepts raw PCM chunks.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/wsstream for remote WebSocket microphones). The interfaces are
// intentionally narrow to keep the pipeline controller decoupled from device
// details.
//
// This package lives under pkg/ because external code (host applications with
// their own audio devices) is expected to implement [Source] and [Sink].
package audio

import "context"

// Source is an audio capture device. A Source must support being stopped and
// restarted without device-level errors surfacing as pipeline crashes; the
// pipeline re-acquires the device automatically when a stream closes
// unexpectedly.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// StartStream begins capture and returns a channel delivering [Frame]
	// values in the format fixed by cfg. The channel is closed when the stream
	// ends — either because Stop was called or because the underlying device
	// failed. Callers distinguish the two by whether they requested the stop.
	//
	// Only one stream may be active per Source; calling StartStream while a
	// stream is active returns an error.
	StartStream(ctx context.Context, cfg StreamConfig) (<-chan Frame, error)

	// Stop ends the active stream and releases the capture device. Calling
	// Stop with no active stream is a no-op. Safe to call multiple times.
	Stop() error
}

// Sink is an audio playback device. PCM chunks written to it are played in
// order. Implementations must tolerate Flush being called mid-chunk.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write queues a raw PCM chunk for playback. It may block briefly while
	// the device buffer drains but must respect ctx cancellation.
	Write(ctx context.Context, pcm []byte) error

	// Flush discards any queued audio that has not yet been played.
	// Used for barge-in, where playback must stop within one processing tick.
	Flush() error

	// Close releases the playback device. Safe to call multiple times.
	Close() error
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel must be
// consumed but its data is no longer needed (e.g., a TTS audio channel after
// a barge-in interrupt).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
