package vad

import (
	"sync"
	"time"
)

// SilenceWatcher runs the silence-timeout path independently of the
// hysteresis state: once armed, it fires its callback exactly once unless
// speech is observed or the watcher is stopped first. Re-arming replaces any
// previously armed window.
type SilenceWatcher struct {
	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	onTimeout func()
}

// NewSilenceWatcher creates a watcher that invokes onTimeout from a timer
// goroutine when an armed window elapses.
func NewSilenceWatcher(onTimeout func()) *SilenceWatcher {
	return &SilenceWatcher{onTimeout: onTimeout}
}

// Start arms the watcher for the given window, replacing any window armed
// earlier. A non-positive timeout disarms instead.
func (w *SilenceWatcher) Start(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	if timeout <= 0 {
		return
	}

	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		stale := w.gen != gen
		if !stale {
			w.timer = nil
		}
		w.mu.Unlock()
		if !stale {
			w.onTimeout()
		}
	})
}

// NotifySpeech disarms the watcher because the user started speaking.
func (w *SilenceWatcher) NotifySpeech() {
	w.Stop()
}

// Stop disarms the watcher without firing. Safe to call when not armed.
func (w *SilenceWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// Armed reports whether a timeout window is currently pending.
func (w *SilenceWatcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *SilenceWatcher) stopLocked() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
