// Package bargein detects the user interrupting assistant playback.
//
// While TTS audio is playing, the microphone stays live and frame-level VAD
// results are forwarded here. Speech must sustain for a confirmation delay
// before an interruption is declared, so coughs and chair squeaks don't kill
// playback; a burst that dies before confirming is reported as cancelled so
// the pipeline can log it. A cooldown window after each detection — and after
// every playback stop — suppresses re-triggering on the echo tail of the
// assistant's own voice.
//
// A transcript-based keyword path ("stop", "wait", ...) short-circuits the
// confirmation delay entirely: a recognized interrupt word is intent, not
// noise. Keyword matching reuses Double Metaphone plus Jaro-Winkler scoring
// so close mispronunciations and ASR slips still match.
package bargein

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// EventKind identifies the type of a barge-in event.
type EventKind int

const (
	// Detected fires when user speech sustained past the confirmation delay
	// during playback.
	Detected EventKind = iota

	// Cancelled fires when a speech burst during playback died before
	// reaching the confirmation delay.
	Cancelled

	// KeywordDetected fires when an interrupt keyword was recognized in a
	// transcript during playback. It bypasses the confirmation delay.
	KeywordDetected
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case Detected:
		return "detected"
	case Cancelled:
		return "cancelled"
	case KeywordDetected:
		return "keyword-detected"
	default:
		return "unknown"
	}
}

// Event is an interruption event emitted by the [Detector].
type Event struct {
	// Kind identifies the event.
	Kind EventKind

	// Timestamp is when the event was emitted.
	Timestamp time.Time

	// SpeechDuration is how long the interrupting speech had sustained when
	// the event fired. Zero for KeywordDetected.
	SpeechDuration time.Duration

	// Keyword is the matched interrupt keyword. Set only on KeywordDetected.
	Keyword string
}

const (
	defaultConfirmationDelay = 300 * time.Millisecond
	defaultCooldown          = 500 * time.Millisecond
	defaultKeywordThreshold  = 0.85
)

// Config configures a [Detector].
type Config struct {
	// ConfirmationDelay is how long speech must sustain during playback
	// before Detected fires. Default 300 ms.
	ConfirmationDelay time.Duration

	// Cooldown suppresses detection for this long after a detection and
	// after every playback stop. Default 500 ms.
	Cooldown time.Duration

	// Keywords are interrupt words matched against transcripts arriving
	// during playback. Empty disables the keyword path.
	Keywords []string

	// KeywordThreshold is the minimum Jaro-Winkler score for a fuzzy keyword
	// match. Default 0.85.
	KeywordThreshold float64

	// OnEvent receives every emitted event, synchronously from the calling
	// goroutine. Required.
	OnEvent func(Event)
}

// Detector tracks interruptions during assistant playback. It is inert until
// NotifyTTSStarted and goes inert again on NotifyTTSStopped; VAD results and
// transcripts arriving while inert are ignored.
type Detector struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	active        bool
	cooldownUntil time.Time
	speechRun     time.Duration
}

// NewDetector creates a Detector. cfg.OnEvent must be non-nil.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.OnEvent == nil {
		return nil, errors.New("bargein: OnEvent must not be nil")
	}
	if cfg.ConfirmationDelay <= 0 {
		cfg.ConfirmationDelay = defaultConfirmationDelay
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.KeywordThreshold <= 0 {
		cfg.KeywordThreshold = defaultKeywordThreshold
	}
	return &Detector{cfg: cfg, now: time.Now}, nil
}

// NotifyTTSStarted activates detection. Any cooldown from a previous playback
// stop or detection stays in force.
func (d *Detector) NotifyTTSStarted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = true
	d.speechRun = 0
}

// NotifyTTSStopped deactivates detection and starts the cooldown window, so a
// playback that resumes immediately doesn't trigger on the echo tail.
func (d *Detector) NotifyTTSStopped() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.speechRun = 0
	d.cooldownUntil = d.now().Add(d.cfg.Cooldown)
}

// Active reports whether detection is currently live.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// ProcessVADResult advances the confirmation state with one frame-level VAD
// verdict. dur is the duration of audio the verdict covers. Emits Detected
// once speech sustains past the confirmation delay, or Cancelled when a burst
// dies short of it.
func (d *Detector) ProcessVADResult(isSpeech bool, dur time.Duration) {
	d.mu.Lock()
	if !d.active || d.now().Before(d.cooldownUntil) {
		d.speechRun = 0
		d.mu.Unlock()
		return
	}

	var emit *Event
	if isSpeech {
		d.speechRun += dur
		if d.speechRun >= d.cfg.ConfirmationDelay {
			emit = &Event{
				Kind:           Detected,
				Timestamp:      d.now(),
				SpeechDuration: d.speechRun,
			}
			d.speechRun = 0
			d.cooldownUntil = d.now().Add(d.cfg.Cooldown)
		}
	} else {
		if d.speechRun > 0 {
			emit = &Event{
				Kind:           Cancelled,
				Timestamp:      d.now(),
				SpeechDuration: d.speechRun,
			}
		}
		d.speechRun = 0
	}
	d.mu.Unlock()

	if emit != nil {
		d.cfg.OnEvent(*emit)
	}
}

// ProcessTranscript checks a transcript for interrupt keywords. On a match it
// emits KeywordDetected immediately — the confirmation delay and any pending
// cooldown do not apply to an explicit interrupt word — and returns the
// matched keyword. Inert when detection is not active.
func (d *Detector) ProcessTranscript(text string) (string, bool) {
	d.mu.Lock()
	if !d.active || len(d.cfg.Keywords) == 0 {
		d.mu.Unlock()
		return "", false
	}
	keyword, ok := matchKeyword(text, d.cfg.Keywords, d.cfg.KeywordThreshold)
	if !ok {
		d.mu.Unlock()
		return "", false
	}
	d.speechRun = 0
	d.cooldownUntil = d.now().Add(d.cfg.Cooldown)
	d.mu.Unlock()

	d.cfg.OnEvent(Event{
		Kind:      KeywordDetected,
		Timestamp: d.now(),
		Keyword:   keyword,
	})
	return keyword, true
}

// Reset returns the detector to its inert state and clears the cooldown.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.speechRun = 0
	d.cooldownUntil = time.Time{}
}

// matchKeyword tests each transcript token against the keyword list: first an
// exact match, then Double Metaphone code overlap, then Jaro-Winkler
// similarity against threshold.
func matchKeyword(text string, keywords []string, threshold float64) (string, bool) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return "", false
	}

	for _, keyword := range keywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		kwPrimary, kwSecondary := matchr.DoubleMetaphone(kw)

		for _, token := range tokens {
			if token == kw {
				return keyword, true
			}
			p, s := matchr.DoubleMetaphone(token)
			phonetic := kwPrimary != "" && (p == kwPrimary || s == kwPrimary) ||
				kwSecondary != "" && (p == kwSecondary || s == kwSecondary)
			if phonetic && matchr.JaroWinkler(token, kw, false) >= threshold-0.15 {
				return keyword, true
			}
			if matchr.JaroWinkler(token, kw, false) >= threshold {
				return keyword, true
			}
		}
	}
	return "", false
}
