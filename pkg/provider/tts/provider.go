// Package tts defines the Provider interface for streaming Text-to-Speech
// backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, or a
// local Piper instance) and presents a uniform streaming interface. The
// primary entry point is SynthesizeStream, which accepts a channel of text
// fragments and returns a channel of raw PCM audio bytes as they become
// available — enabling low-latency pipelining between response generation and
// audio playback.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; a new synthesis stream is
// opened for every spoken response, and an interrupted stream may still be
// draining while the next one starts.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised. This design allows the caller to pipe streaming response
	// text directly into synthesis without waiting for the full text.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// audio channel to avoid blocking the provider's internal goroutines;
	// cancelling ctx is the supported way to abandon a stream mid-synthesis
	// (e.g., on barge-in).
	//
	// voice specifies the voice profile to use for synthesis. Providers should
	// return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// SynthesizeText is a convenience helper that synthesises a single complete
// text string through p. It wraps the string in a one-element channel and
// starts a stream; the returned audio channel behaves exactly as documented on
// [Provider.SynthesizeStream].
func SynthesizeText(ctx context.Context, p Provider, text string, voice VoiceProfile) (<-chan []byte, error) {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return p.SynthesizeStream(ctx, ch, voice)
}
