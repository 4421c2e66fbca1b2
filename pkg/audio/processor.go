package audio

import (
	"encoding/binary"
	"math"
)

// Processor transforms captured frames before they reach VAD and ASR. The
// original capture path runs acoustic echo cancellation, noise suppression,
// and gain control here; hosts without a native audio processing module can
// chain the lightweight processors in this package instead.
//
// Process is called synchronously per frame from the ingestion goroutine and
// must not block. Implementations may modify the frame's PCM in place.
type Processor interface {
	Process(frame Frame) Frame
}

// ProcessorFunc adapts a function to the [Processor] interface.
type ProcessorFunc func(Frame) Frame

// Process implements [Processor].
func (f ProcessorFunc) Process(frame Frame) Frame { return f(frame) }

// Chain composes processors left to right. A nil or empty chain is the
// identity processor.
func Chain(procs ...Processor) Processor {
	return ProcessorFunc(func(frame Frame) Frame {
		for _, p := range procs {
			if p != nil {
				frame = p.Process(frame)
			}
		}
		return frame
	})
}

// Gain returns a processor that scales samples by factor, clamping at the
// int16 range. A factor of 1.0 is the identity.
func Gain(factor float64) Processor {
	return ProcessorFunc(func(frame Frame) Frame {
		if factor == 1.0 {
			return frame
		}
		for i := 0; i+1 < len(frame.PCM); i += 2 {
			s := float64(int16(binary.LittleEndian.Uint16(frame.PCM[i:]))) * factor
			if s > math.MaxInt16 {
				s = math.MaxInt16
			} else if s < math.MinInt16 {
				s = math.MinInt16
			}
			binary.LittleEndian.PutUint16(frame.PCM[i:], uint16(int16(s)))
		}
		return frame
	})
}

// HighPass returns a simple first-order high-pass filter processor that
// removes DC offset and low-frequency rumble before energy-based VAD.
// cutoff is the -3 dB frequency in Hz.
func HighPass(cutoff float64, sampleRate int) Processor {
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	var prevIn, prevOut float64
	return ProcessorFunc(func(frame Frame) Frame {
		for i := 0; i+1 < len(frame.PCM); i += 2 {
			in := float64(int16(binary.LittleEndian.Uint16(frame.PCM[i:])))
			out := alpha * (prevOut + in - prevIn)
			prevIn, prevOut = in, out
			if out > math.MaxInt16 {
				out = math.MaxInt16
			} else if out < math.MinInt16 {
				out = math.MinInt16
			}
			binary.LittleEndian.PutUint16(frame.PCM[i:], uint16(int16(out)))
		}
		return frame
	})
}
