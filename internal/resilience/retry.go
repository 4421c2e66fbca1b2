package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RetrierConfig holds tuning knobs for a [Retrier].
type RetrierConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Delay is the debounce interval before the first attempt runs.
	// Default: 1s.
	Delay time.Duration

	// MaxDelay caps the exponential backoff between failed attempts.
	// Default: 30s.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt. Default: 2.0.
	Multiplier float64
}

// Retrier runs a recovery action at most once at a time, after a debounce
// delay, retrying with exponential backoff until the action succeeds or the
// schedule is cancelled.
//
// It exists for the "exactly one scheduled restart" guarantee: events that
// all indicate the same broken resource (an ASR stream error, its closed
// transcript channels, a failed write) may each request a restart, but only
// the first request arms the retrier — the rest are no-ops while an attempt
// is pending or running.
//
// Retrier is safe for concurrent use.
type Retrier struct {
	name       string
	delay      time.Duration
	maxDelay   time.Duration
	multiplier float64

	mu      sync.Mutex
	pending bool
	stopped bool
	cancel  context.CancelFunc
	gen     uint64 // guards stale attempt goroutines after Cancel
}

// NewRetrier creates a [Retrier] with the supplied configuration. Zero-value
// config fields are replaced with sensible defaults.
func NewRetrier(cfg RetrierConfig) *Retrier {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	return &Retrier{
		name:       cfg.Name,
		delay:      cfg.Delay,
		maxDelay:   cfg.MaxDelay,
		multiplier: cfg.Multiplier,
	}
}

// Schedule arms the retrier: after the debounce delay, fn runs; if it fails it
// is retried with exponential backoff. While an attempt is pending or running,
// further Schedule calls are no-ops. Reports whether this call armed the
// retrier.
//
// The attempt loop stops when fn succeeds, when ctx is cancelled, or when
// [Retrier.Cancel] or [Retrier.Stop] is called.
func (r *Retrier) Schedule(ctx context.Context, fn func(context.Context) error) bool {
	r.mu.Lock()
	if r.stopped || r.pending {
		r.mu.Unlock()
		return false
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	r.pending = true
	r.cancel = cancel
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	go r.run(attemptCtx, gen, fn)
	return true
}

// run executes the debounce-attempt-backoff loop. It owns the pending flag
// for its generation; a Cancel that supersedes this attempt bumps the
// generation so the deferred cleanup below cannot clear a newer schedule.
func (r *Retrier) run(ctx context.Context, gen uint64, fn func(context.Context) error) {
	defer func() {
		r.mu.Lock()
		if r.gen == gen {
			r.pending = false
			r.cancel = nil
		}
		r.mu.Unlock()
	}()

	delay := r.delay
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("recovery succeeded", "name", r.name, "attempt", attempt)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay = time.Duration(float64(delay) * r.multiplier)
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
		slog.Warn("recovery attempt failed, backing off",
			"name", r.name,
			"attempt", attempt,
			"next_delay", delay,
			"error", err)
	}
}

// Pending reports whether an attempt is currently scheduled or running.
func (r *Retrier) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Cancel aborts any pending or running attempt. The retrier can be armed
// again afterwards; use it when the resource was recovered by other means
// (e.g. a full pipeline reset superseding a session restart).
func (r *Retrier) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.pending = false
	r.gen++
}

// Stop cancels any pending attempt and permanently disarms the retrier.
// Subsequent Schedule calls return false.
func (r *Retrier) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.pending = false
	r.gen++
}
