// Package energy implements a pure-Go [vad.Engine] based on RMS energy
// levels with Schmitt-trigger hysteresis.
//
// The engine maps each frame's root-mean-square amplitude to a pseudo
// speech probability and compares it against the session's thresholds. Two
// distinct thresholds (speech vs. silence) prevent flickering between states
// on frames that hover around a single cut-off.
//
// Energy detection cannot distinguish speech from other loud sounds, so it is
// the fallback engine: the pipeline prefers a model-backed engine when one is
// configured and degrades to energy transparently when that engine fails.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/provider/vad"
)

// defaultCalibration is the full-scale RMS level mapped to probability 1.0.
// Conversational speech close to a microphone typically peaks around
// 0.05–0.30 RMS on a [0,1] scale; 0.06 makes normal speech land comfortably
// above a 0.5 speech threshold while keeping room tone near zero.
const defaultCalibration = 0.06

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithCalibration sets the RMS level that maps to probability 1.0.
// Lower values make the detector more sensitive.
func WithCalibration(level float64) Option {
	return func(e *Engine) {
		if level > 0 {
			e.calibration = level
		}
	}
}

// Engine creates energy-based VAD sessions. Safe for concurrent use.
type Engine struct {
	calibration float64
}

// New creates an energy Engine with the supplied options.
func New(opts ...Option) *Engine {
	e := &Engine{calibration: defaultCalibration}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %g out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %g must be in [0, %g]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	return &session{
		cfg:         cfg,
		calibration: e.calibration,
		frameBytes:  cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// session is a single-stream energy VAD session. It implements
// [vad.SessionHandle]. Safe for concurrent use, although the pipeline drives
// it from a single ingestion goroutine.
type session struct {
	cfg         vad.Config
	calibration float64
	frameBytes  int

	mu       sync.Mutex
	inSpeech bool
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle] using Schmitt-trigger
// hysteresis: once in speech, the session stays in speech until the
// probability drops below the silence threshold, and vice versa.
func (s *session) ProcessFrame(frame []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Result{}, fmt.Errorf("energy: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := audio.RMS(frame) / s.calibration
	if prob > 1 {
		prob = 1
	}

	if s.inSpeech {
		if prob < s.cfg.SilenceThreshold {
			s.inSpeech = false
		}
	} else {
		if prob >= s.cfg.SpeechThreshold {
			s.inSpeech = true
		}
	}

	return vad.Result{IsSpeech: s.inSpeech, Probability: prob}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
}

// Close implements [vad.SessionHandle]. Safe to call multiple times.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
