// Package vad turns frame-level speech/silence classifications into
// turn-taking events.
//
// The frame-level work (energy or model scoring) lives behind
// [vadengine.Engine]; this package adds the hysteresis that decides when a
// user has actually started and finished speaking. A frame run must sustain
// speech for a minimum duration before SpeechStart is declared, and sustain
// silence for a configurable speech-end threshold before SpeechEnd — the
// threshold trades responsiveness against cutting the user off mid-sentence.
//
// A [SilenceWatcher] provides the independent silence-timeout path used to
// trigger proactive dialogue; it is deliberately not coupled to the
// hysteresis state.
package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auralis-ai/auralis/pkg/audio"
	vadengine "github.com/auralis-ai/auralis/pkg/provider/vad"
	"github.com/auralis-ai/auralis/pkg/provider/vad/energy"
)

// EventKind identifies the type of a turn-taking event.
type EventKind int

const (
	// SpeechStart fires once speech has been sustained for MinSpeechDuration.
	SpeechStart EventKind = iota

	// SpeechEnd fires once silence has been sustained for SpeechEndThreshold
	// following a SpeechStart.
	SpeechEnd

	// SilenceTimeout fires when no SpeechStart occurred within the window
	// armed via [Detector.StartSilenceTimeout].
	SilenceTimeout
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case SpeechStart:
		return "speech-start"
	case SpeechEnd:
		return "speech-end"
	case SilenceTimeout:
		return "silence-timeout"
	default:
		return "unknown"
	}
}

// Event is a turn-taking event emitted by the [Detector].
type Event struct {
	// Kind identifies the event.
	Kind EventKind

	// Timestamp is when the event was emitted.
	Timestamp time.Time

	// SpeechDuration is the length of the completed utterance. Set only on
	// SpeechEnd events; it excludes the trailing silence that triggered the
	// event.
	SpeechDuration time.Duration
}

// Classification is the detector's current view of the microphone signal.
type Classification int

const (
	// Silence means no speech is being observed.
	Silence Classification = iota

	// PossibleSpeech means above-threshold frames are arriving but have not
	// yet sustained long enough to declare SpeechStart.
	PossibleSpeech

	// Speaking means a SpeechStart has been declared and no SpeechEnd yet.
	Speaking
)

// String returns the human-readable name of the classification.
func (c Classification) String() string {
	switch c {
	case Silence:
		return "silence"
	case PossibleSpeech:
		return "possible-speech"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

const (
	defaultMinSpeechDuration  = 200 * time.Millisecond
	defaultSpeechEndThreshold = 1200 * time.Millisecond
	defaultSpeechThreshold    = 0.5
	defaultSilenceThreshold   = 0.35
)

// Config configures a [Detector].
type Config struct {
	// Engine is the preferred frame-level engine (e.g., a model-backed one).
	// If nil, or if it fails to open a session, the energy fallback is used
	// transparently — consumers see the same event contract either way.
	Engine vadengine.Engine

	// Stream describes the audio format of frames passed to ProcessFrame.
	// Zero value promotes to [audio.DefaultStreamConfig].
	Stream audio.StreamConfig

	// SpeechThreshold is the frame probability at or above which a frame
	// counts as speech. Default 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the frame probability below which a frame counts as
	// silence once in speech. Default 0.35.
	SilenceThreshold float64

	// MinSpeechDuration is how long speech must sustain before SpeechStart.
	// Default 200 ms.
	MinSpeechDuration time.Duration

	// SpeechEndThreshold is how long silence must sustain before SpeechEnd.
	// Recommended range 800–1500 ms; default 1200 ms.
	SpeechEndThreshold time.Duration

	// OnEvent receives every emitted event. Required. SpeechStart and
	// SpeechEnd are delivered synchronously from ProcessFrame; SilenceTimeout
	// is delivered from a timer goroutine.
	OnEvent func(Event)
}

// Detector is the turn-level voice activity detector. ProcessFrame must be
// driven from a single ingestion goroutine; the read-only accessors are safe
// to call from anywhere.
type Detector struct {
	cfg     Config
	session vadengine.SessionHandle
	onFallb bool // already running on the energy fallback

	mu             sync.Mutex
	class          Classification
	speechRun      time.Duration
	silenceRun     time.Duration
	speechDuration time.Duration
	closed         bool

	watcher *SilenceWatcher
}

// NewDetector creates a Detector. cfg.OnEvent must be non-nil. If the
// configured engine cannot open a session the energy fallback is used; an
// error is returned only if the fallback cannot be opened either.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.OnEvent == nil {
		return nil, errors.New("vad: OnEvent must not be nil")
	}
	if cfg.Stream.SampleRate == 0 {
		cfg.Stream = audio.DefaultStreamConfig()
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = defaultMinSpeechDuration
	}
	if cfg.SpeechEndThreshold <= 0 {
		cfg.SpeechEndThreshold = defaultSpeechEndThreshold
	}

	d := &Detector{cfg: cfg}
	d.watcher = NewSilenceWatcher(func() {
		cfg.OnEvent(Event{Kind: SilenceTimeout, Timestamp: time.Now()})
	})

	engineCfg := vadengine.Config{
		SampleRate:       cfg.Stream.SampleRate,
		FrameSizeMs:      int(cfg.Stream.FrameDuration / time.Millisecond),
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
	}

	if cfg.Engine != nil {
		session, err := cfg.Engine.NewSession(engineCfg)
		if err == nil {
			d.session = session
			return d, nil
		}
		slog.Warn("vad engine unavailable, falling back to energy detection", "error", err)
	}

	session, err := energy.New().NewSession(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("vad: open fallback session: %w", err)
	}
	d.session = session
	d.onFallb = true
	return d, nil
}

// ProcessFrame feeds one audio frame through the engine and advances the
// hysteresis state, emitting SpeechStart/SpeechEnd through OnEvent as
// thresholds are crossed. Engine errors are non-fatal: the frame is treated
// as silence and, on the first failure of a non-fallback engine, the detector
// swaps to the energy fallback for all subsequent frames.
func (d *Detector) ProcessFrame(frame audio.Frame) {
	isSpeech := d.classifyFrame(frame)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	dur := frame.Duration()
	var emit []Event

	switch d.class {
	case Silence, PossibleSpeech:
		if isSpeech {
			d.speechRun += dur
			d.class = PossibleSpeech
			if d.speechRun >= d.cfg.MinSpeechDuration {
				d.class = Speaking
				d.speechDuration = d.speechRun
				d.silenceRun = 0
				emit = append(emit, Event{Kind: SpeechStart, Timestamp: time.Now()})
			}
		} else {
			d.speechRun = 0
			d.class = Silence
		}

	case Speaking:
		if isSpeech {
			d.speechDuration += d.silenceRun + dur
			d.silenceRun = 0
		} else {
			d.silenceRun += dur
			if d.silenceRun >= d.cfg.SpeechEndThreshold {
				emit = append(emit, Event{
					Kind:           SpeechEnd,
					Timestamp:      time.Now(),
					SpeechDuration: d.speechDuration,
				})
				d.class = Silence
				d.speechRun = 0
				d.silenceRun = 0
				d.speechDuration = 0
			}
		}
	}
	d.mu.Unlock()

	for _, ev := range emit {
		if ev.Kind == SpeechStart {
			d.watcher.NotifySpeech()
		}
		d.cfg.OnEvent(ev)
	}
}

// classifyFrame runs the frame through the current engine session, handling
// fallback on error. Errors never propagate to the caller.
func (d *Detector) classifyFrame(frame audio.Frame) bool {
	res, err := d.session.ProcessFrame(frame.PCM)
	if err == nil {
		return res.IsSpeech
	}

	if d.onFallb {
		// Fallback engine failing too — treat the frame as silence.
		slog.Debug("vad frame classification failed", "error", err)
		return false
	}

	slog.Warn("vad engine failed mid-stream, switching to energy detection", "error", err)
	session, ferr := energy.New().NewSession(vadengine.Config{
		SampleRate:       d.cfg.Stream.SampleRate,
		FrameSizeMs:      int(d.cfg.Stream.FrameDuration / time.Millisecond),
		SpeechThreshold:  d.cfg.SpeechThreshold,
		SilenceThreshold: d.cfg.SilenceThreshold,
	})
	if ferr != nil {
		slog.Error("energy fallback unavailable", "error", ferr)
		return false
	}
	_ = d.session.Close()
	d.session = session
	d.onFallb = true

	res, err = d.session.ProcessFrame(frame.PCM)
	if err != nil {
		return false
	}
	return res.IsSpeech
}

// StartSilenceTimeout arms the independent silence watcher: if no SpeechStart
// occurs within timeout, a SilenceTimeout event is emitted (once per arming).
func (d *Detector) StartSilenceTimeout(timeout time.Duration) {
	d.watcher.Start(timeout)
}

// StopSilenceTimeout disarms the silence watcher without emitting an event.
func (d *Detector) StopSilenceTimeout() {
	d.watcher.Stop()
}

// Classification returns the detector's current view of the signal.
func (d *Detector) Classification() Classification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.class
}

// Speaking reports whether a SpeechStart has been declared without a
// subsequent SpeechEnd.
func (d *Detector) Speaking() bool {
	return d.Classification() == Speaking
}

// Reset returns the detector to the silence state, clears all accumulated
// runs, and disarms the silence watcher. The engine session is reset too.
func (d *Detector) Reset() {
	d.watcher.Stop()
	d.mu.Lock()
	d.class = Silence
	d.speechRun = 0
	d.silenceRun = 0
	d.speechDuration = 0
	d.mu.Unlock()
	d.session.Reset()
}

// Close releases the engine session and disarms the silence watcher. Safe to
// call multiple times.
func (d *Detector) Close() error {
	d.watcher.Stop()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("vad: close session: %w", err)
	}
	return nil
}
