// Package proactive bounds how long the assistant waits for the user.
//
// When the pipeline returns to listening and the user stays quiet, a short
// timer asks the controller to speak a contextual prompt. Each unanswered
// prompt increments a consecutive-no-response counter; hitting the limit, or
// exhausting the longer cumulative-silence window, ends the session through a
// single OnSessionTimeout callback. Any detected user speech resets both the
// prompt timer and the counter.
package proactive

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultPromptDelay    = 5 * time.Second
	defaultSessionSilence = 30 * time.Second
	defaultMaxNoResponse  = 3
)

// Config configures a [Manager].
type Config struct {
	// PromptDelay is how long the user may stay silent in listening before a
	// proactive prompt is requested. Default 5 s.
	PromptDelay time.Duration

	// SessionSilence is the cumulative silence budget for the whole session.
	// It is reset only by user speech, not by prompts. Default 30 s.
	SessionSilence time.Duration

	// MaxNoResponse is how many consecutive prompts may go unanswered before
	// the session times out. Default 3.
	MaxNoResponse int

	// OnPrompt asks the host to generate and speak a contextual prompt.
	// n is 1-based and counts consecutive unanswered prompts. Required.
	// Called from a timer goroutine.
	OnPrompt func(n int)

	// OnSessionTimeout fires exactly once per session when the user is
	// considered gone. Required. Called from a timer goroutine.
	OnSessionTimeout func()
}

// Manager drives assistant-initiated turns. It is inert until Start; Stop
// disarms everything and returns it to a fresh state so a restarted session
// begins with full budgets.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	running     bool
	timedOut    bool
	noResponse  int
	promptGen   uint64
	promptTimer *time.Timer
	silenceGen  uint64
	silence     *time.Timer
}

// NewManager creates a Manager. Both callbacks are required.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.OnPrompt == nil {
		return nil, errors.New("proactive: OnPrompt must not be nil")
	}
	if cfg.OnSessionTimeout == nil {
		return nil, errors.New("proactive: OnSessionTimeout must not be nil")
	}
	if cfg.PromptDelay <= 0 {
		cfg.PromptDelay = defaultPromptDelay
	}
	if cfg.SessionSilence <= 0 {
		cfg.SessionSilence = defaultSessionSilence
	}
	if cfg.MaxNoResponse <= 0 {
		cfg.MaxNoResponse = defaultMaxNoResponse
	}
	return &Manager{cfg: cfg}, nil
}

// Start begins a session: budgets are reset and the cumulative-silence clock
// starts ticking. The prompt timer stays disarmed until OnTurnSilence.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.timedOut = false
	m.noResponse = 0
	m.armSilenceLocked()
}

// Stop disarms all timers and resets the session state. Safe to call when
// not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.timedOut = false
	m.noResponse = 0
	m.disarmPromptLocked()
	m.disarmSilenceLocked()
}

// OnTurnSilence arms the prompt timer. The controller calls this whenever the
// pipeline returns to listening without the user having spoken — after an
// assistant turn, and after each proactive prompt finishes playing.
func (m *Manager) OnTurnSilence() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.timedOut {
		return
	}
	m.armPromptLocked()
}

// OnUserActivity records detected user speech: the no-response counter and
// the cumulative-silence clock reset, and any pending prompt is cancelled.
func (m *Manager) OnUserActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.timedOut {
		return
	}
	m.noResponse = 0
	m.disarmPromptLocked()
	m.armSilenceLocked()
}

// NoResponseCount returns the current consecutive unanswered-prompt count.
func (m *Manager) NoResponseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noResponse
}

// ---- timer internals ----

func (m *Manager) armPromptLocked() {
	m.disarmPromptLocked()
	m.promptGen++
	gen := m.promptGen
	m.promptTimer = time.AfterFunc(m.cfg.PromptDelay, func() { m.promptExpired(gen) })
}

func (m *Manager) disarmPromptLocked() {
	m.promptGen++
	if m.promptTimer != nil {
		m.promptTimer.Stop()
		m.promptTimer = nil
	}
}

func (m *Manager) armSilenceLocked() {
	m.disarmSilenceLocked()
	m.silenceGen++
	gen := m.silenceGen
	m.silence = time.AfterFunc(m.cfg.SessionSilence, func() { m.silenceExpired(gen) })
}

func (m *Manager) disarmSilenceLocked() {
	m.silenceGen++
	if m.silence != nil {
		m.silence.Stop()
		m.silence = nil
	}
}

// promptExpired handles a prompt-timer expiry: either request the next prompt
// or, once the limit of unanswered prompts is reached, end the session.
func (m *Manager) promptExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.promptGen || !m.running || m.timedOut {
		m.mu.Unlock()
		return
	}
	m.promptTimer = nil

	if m.noResponse >= m.cfg.MaxNoResponse {
		m.timeoutLocked("max unanswered prompts reached", "prompts", m.noResponse)
		return
	}

	m.noResponse++
	n := m.noResponse
	m.mu.Unlock()

	slog.Debug("requesting proactive prompt", "attempt", n)
	m.cfg.OnPrompt(n)
}

// silenceExpired handles the cumulative-silence budget running out.
func (m *Manager) silenceExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.silenceGen || !m.running || m.timedOut {
		m.mu.Unlock()
		return
	}
	m.silence = nil
	m.timeoutLocked("cumulative silence budget exhausted", "budget", m.cfg.SessionSilence)
}

// timeoutLocked latches the timed-out state, disarms everything, and invokes
// the session-timeout callback with the mutex released. The latch guarantees
// the callback fires at most once per session even if both timers expire.
func (m *Manager) timeoutLocked(reason string, args ...any) {
	m.timedOut = true
	m.disarmPromptLocked()
	m.disarmSilenceLocked()
	m.mu.Unlock()

	slog.Info("session timed out: "+reason, args...)
	m.cfg.OnSessionTimeout()
}
