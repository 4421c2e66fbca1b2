package audio

import "time"

// Frame represents a single fixed-duration frame of audio flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from a
// [Source], classified by VAD, and forwarded to the ASR stream.
//
// A Frame is immutable once captured: ownership passes from the Source to
// exactly one consumer path per frame, and frames must not be retained after
// the consumer returns.
type Frame struct {
	// PCM holds raw little-endian 16-bit signed samples.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for ASR input).
	SampleRate int

	// Channels: 1 for mono (ASR input), 2 for stereo playback.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame, derived from the PCM
// length and the frame's format. Returns zero for malformed frames.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.PCM) == 0 {
		return 0
	}
	samples := len(f.PCM) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// StreamConfig fixes the audio format a [Source] must deliver. The pipeline
// default is 16 kHz mono 16-bit PCM in 100 ms frames.
type StreamConfig struct {
	// SampleRate in Hz. The pipeline default is 16000.
	SampleRate int

	// Channels is the number of interleaved channels. The pipeline requires 1.
	Channels int

	// FrameDuration is the fixed duration of each delivered frame.
	// The pipeline default is 100 ms.
	FrameDuration time.Duration
}

// DefaultStreamConfig returns the pipeline's canonical capture format:
// 16 kHz mono 16-bit PCM in 100 ms frames.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 100 * time.Millisecond,
	}
}

// FrameBytes returns the PCM byte length of one frame in this config.
func (c StreamConfig) FrameBytes() int {
	samples := int(c.FrameDuration * time.Duration(c.SampleRate) / time.Second)
	return samples * 2 * c.Channels
}
