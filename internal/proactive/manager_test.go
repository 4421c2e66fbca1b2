package proactive

import (
	"sync/atomic"
	"testing"
	"time"
)

type callbacks struct {
	prompts  atomic.Int32
	timeouts atomic.Int32
	lastN    atomic.Int32
}

func newTestManager(t *testing.T, cfg Config, onPrompt func(n int)) (*Manager, *callbacks) {
	t.Helper()
	cb := &callbacks{}
	cfg.OnPrompt = func(n int) {
		cb.prompts.Add(1)
		cb.lastN.Store(int32(n))
		if onPrompt != nil {
			onPrompt(n)
		}
	}
	cfg.OnSessionTimeout = func() { cb.timeouts.Add(1) }
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m, cb
}

func TestManager_PromptAfterTurnSilence(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    20 * time.Millisecond,
		SessionSilence: 10 * time.Second,
	}, nil)

	m.Start()
	m.OnTurnSilence()
	time.Sleep(80 * time.Millisecond)

	if n := cb.prompts.Load(); n != 1 {
		t.Fatalf("prompts = %d, want 1", n)
	}
	if n := cb.lastN.Load(); n != 1 {
		t.Errorf("prompt number = %d, want 1", n)
	}
	if n := cb.timeouts.Load(); n != 0 {
		t.Errorf("timeouts = %d, want 0", n)
	}
}

func TestManager_UserActivityCancelsPrompt(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    30 * time.Millisecond,
		SessionSilence: 10 * time.Second,
	}, nil)

	m.Start()
	m.OnTurnSilence()
	m.OnUserActivity()
	time.Sleep(100 * time.Millisecond)

	if n := cb.prompts.Load(); n != 0 {
		t.Fatalf("prompts = %d after user activity, want 0", n)
	}
}

func TestManager_UserActivityResetsCounter(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    10 * time.Millisecond,
		SessionSilence: 10 * time.Second,
	}, nil)

	m.Start()
	m.OnTurnSilence()
	waitFor(t, func() bool { return cb.prompts.Load() == 1 })

	m.OnUserActivity()
	if n := m.NoResponseCount(); n != 0 {
		t.Fatalf("NoResponseCount = %d after activity, want 0", n)
	}

	m.OnTurnSilence()
	waitFor(t, func() bool { return cb.prompts.Load() == 2 })
	if n := cb.lastN.Load(); n != 1 {
		t.Errorf("prompt number after reset = %d, want 1", n)
	}
}

func TestManager_ThreeUnansweredPromptsEndSession(t *testing.T) {
	var m *Manager
	// Mimic the controller: after each prompt finishes "playing", the
	// pipeline returns to listening and reports turn silence.
	m, cb := newTestManager(t, Config{
		PromptDelay:    10 * time.Millisecond,
		SessionSilence: 10 * time.Second,
		MaxNoResponse:  3,
	}, func(int) { m.OnTurnSilence() })

	m.Start()
	m.OnTurnSilence()

	waitFor(t, func() bool { return cb.timeouts.Load() == 1 })
	if n := cb.prompts.Load(); n != 3 {
		t.Fatalf("prompts = %d, want 3 before the session times out", n)
	}

	// No further prompts or timeouts after the session ended.
	time.Sleep(60 * time.Millisecond)
	if n := cb.timeouts.Load(); n != 1 {
		t.Fatalf("timeouts = %d, want exactly 1", n)
	}
	if n := cb.prompts.Load(); n != 3 {
		t.Fatalf("prompts = %d after timeout, want still 3", n)
	}
}

func TestManager_CumulativeSilenceEndsSession(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    10 * time.Second, // never fires
		SessionSilence: 30 * time.Millisecond,
	}, nil)

	m.Start()
	waitFor(t, func() bool { return cb.timeouts.Load() == 1 })
	if n := cb.prompts.Load(); n != 0 {
		t.Errorf("prompts = %d, want 0", n)
	}
}

func TestManager_UserActivityExtendsSilenceBudget(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    10 * time.Second,
		SessionSilence: 60 * time.Millisecond,
	}, nil)

	m.Start()
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		m.OnUserActivity()
	}
	if n := cb.timeouts.Load(); n != 0 {
		t.Fatalf("timeouts = %d while the user keeps talking, want 0", n)
	}

	waitFor(t, func() bool { return cb.timeouts.Load() == 1 })
}

func TestManager_StopDisarmsTimers(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    20 * time.Millisecond,
		SessionSilence: 40 * time.Millisecond,
	}, nil)

	m.Start()
	m.OnTurnSilence()
	m.Stop()
	time.Sleep(100 * time.Millisecond)

	if n := cb.prompts.Load(); n != 0 {
		t.Errorf("prompts = %d after stop, want 0", n)
	}
	if n := cb.timeouts.Load(); n != 0 {
		t.Errorf("timeouts = %d after stop, want 0", n)
	}
}

func TestManager_RestartBeginsFreshSession(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    15 * time.Millisecond,
		SessionSilence: 10 * time.Second,
	}, nil)

	m.Start()
	m.OnTurnSilence()
	waitFor(t, func() bool { return cb.prompts.Load() == 1 })
	m.Stop()

	m.Start()
	if n := m.NoResponseCount(); n != 0 {
		t.Fatalf("NoResponseCount after restart = %d, want 0", n)
	}
	m.OnTurnSilence()
	waitFor(t, func() bool { return cb.prompts.Load() == 2 })
	if n := cb.lastN.Load(); n != 1 {
		t.Errorf("prompt number after restart = %d, want 1", n)
	}
}

func TestManager_InertBeforeStart(t *testing.T) {
	m, cb := newTestManager(t, Config{
		PromptDelay:    10 * time.Millisecond,
		SessionSilence: 10 * time.Second,
	}, nil)

	m.OnTurnSilence()
	time.Sleep(50 * time.Millisecond)
	if n := cb.prompts.Load(); n != 0 {
		t.Fatalf("prompts = %d before Start, want 0", n)
	}
}

func TestManager_RequiresCallbacks(t *testing.T) {
	if _, err := NewManager(Config{OnSessionTimeout: func() {}}); err == nil {
		t.Error("NewManager accepted a nil OnPrompt")
	}
	if _, err := NewManager(Config{OnPrompt: func(int) {}}); err == nil {
		t.Error("NewManager accepted a nil OnSessionTimeout")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached before deadline")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
