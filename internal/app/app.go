// Package app wires all Auralis subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems (resilience wrappers, history, pipeline controller, HTTP
// observability server), Run executes until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/auralis-ai/auralis/internal/config"
	"github.com/auralis-ai/auralis/internal/health"
	"github.com/auralis-ai/auralis/internal/history"
	histpg "github.com/auralis-ai/auralis/internal/history/postgres"
	"github.com/auralis-ai/auralis/internal/observe"
	"github.com/auralis-ai/auralis/internal/pipeline"
	"github.com/auralis-ai/auralis/internal/resilience"
	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/command"
	"github.com/auralis-ai/auralis/pkg/provider/stt"
	"github.com/auralis-ai/auralis/pkg/provider/tts"
	"github.com/auralis-ai/auralis/pkg/provider/vad"
)

// shutdownGrace is how long the HTTP server gets to drain in-flight requests.
const shutdownGrace = 5 * time.Second

// NamedSTT pairs a recognition provider with the config name it was created
// from, for circuit-breaker labelling and logs.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// NamedTTS pairs a synthesis provider with its config name.
type NamedTTS struct {
	Name     string
	Provider tts.Provider
}

// NamedCommand pairs a command processor with its config name.
type NamedCommand struct {
	Name      string
	Processor command.Processor
}

// Providers holds the instantiated provider set. Populated by main.go via the
// config registry. Source, Sink, STT, and TTS are required; a nil Command
// falls back to canned replies and a nil VAD selects the energy detector.
type Providers struct {
	Source audio.Source
	Sink   audio.Sink

	STT          NamedSTT
	STTFallbacks []NamedSTT

	TTS          NamedTTS
	TTSFallbacks []NamedTTS

	VAD vad.Engine

	Command          NamedCommand
	CommandFallbacks []NamedCommand
}

// App owns all subsystem lifetimes and orchestrates the Auralis voice
// pipeline plus its observability server.
type App struct {
	cfg       *config.Config
	sessionID string
	startedAt time.Time

	metrics    *observe.Metrics
	hist       *history.Log
	store      history.Store
	controller *pipeline.Controller
	server     *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a history store instead of connecting to PostgreSQL.
func WithStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithHistoryLog injects an in-memory conversation log.
func WithHistoryLog(l *history.Log) Option {
	return func(a *App) { a.hist = l }
}

// WithMetrics injects a metrics recorder instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	switch {
	case providers == nil:
		return nil, errors.New("app: providers must not be nil")
	case providers.Source == nil:
		return nil, errors.New("app: audio source is required")
	case providers.Sink == nil:
		return nil, errors.New("app: audio sink is required")
	case providers.STT.Provider == nil:
		return nil, errors.New("app: stt provider is required")
	case providers.TTS.Provider == nil:
		return nil, errors.New("app: tts provider is required")
	}

	a := &App{
		cfg:       cfg,
		startedAt: time.Now().UTC(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.hist == nil {
		a.hist = history.NewLog(cfg.History.MaxTurns, cfg.History.DedupWindow.Std())
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init history store: %w", err)
	}

	if err := a.initPipeline(providers); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	a.initServer()

	return a, nil
}

// ---- init helpers ----

// initStore connects the persistent history store when a DSN is configured.
// An injected store takes precedence.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil || a.cfg.History.PostgresDSN == "" {
		return nil
	}

	st, err := histpg.NewStore(ctx, a.cfg.History.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	slog.Info("history persistence enabled")
	return nil
}

// initPipeline wraps the providers in their resilience groups and builds the
// pipeline controller.
func (a *App) initPipeline(providers *Providers) error {
	p := a.cfg.Pipeline

	// Every provider goes through a fallback group so the primary gets a
	// circuit breaker even when no fallbacks are configured.
	sttGroup := resilience.NewSTTFallback(providers.STT.Provider, providers.STT.Name, resilience.FallbackConfig{Kind: "stt", Metrics: a.metrics})
	for _, f := range providers.STTFallbacks {
		sttGroup.AddFallback(f.Name, f.Provider)
	}

	ttsGroup := resilience.NewTTSFallback(providers.TTS.Provider, providers.TTS.Name, resilience.FallbackConfig{Kind: "tts", Metrics: a.metrics})
	for _, f := range providers.TTSFallbacks {
		ttsGroup.AddFallback(f.Name, f.Provider)
	}

	primary := providers.Command
	if primary.Processor == nil {
		slog.Warn("no command processor configured, using canned replies")
		primary = NamedCommand{Name: "canned", Processor: command.NewCanned()}
	}
	cmdGroup := resilience.NewCommandFallback(primary.Processor, primary.Name, resilience.FallbackConfig{Kind: "command", Metrics: a.metrics})
	for _, f := range providers.CommandFallbacks {
		cmdGroup.AddFallback(f.Name, f.Processor)
	}
	if primary.Name != "canned" {
		cmdGroup.AddFallback("canned", command.NewCanned())
	}

	ctrl, err := pipeline.New(pipeline.Config{
		SessionID:   a.sessionID,
		Source:      providers.Source,
		Sink:        providers.Sink,
		STT:         sttGroup,
		STTLanguage: p.Language,
		TTS:         ttsGroup,
		Voice: tts.VoiceProfile{
			ID:          p.Voice.VoiceID,
			Name:        p.Voice.Name,
			Provider:    providers.TTS.Name,
			SpeedFactor: p.Voice.SpeedFactor,
		},
		Command:             cmdGroup,
		VADEngine:           providers.VAD,
		History:             a.hist,
		Store:               a.store,
		Metrics:             a.metrics,
		MinSpeechDuration:   p.MinSpeechDuration.Std(),
		SpeechEndThreshold:  p.SpeechEndThreshold.Std(),
		BargeInConfirmation: p.BargeInConfirmation.Std(),
		BargeInCooldown:     p.BargeInCooldown.Std(),
		BargeInKeywords:     p.BargeInKeywords,
		EchoSettleDelay:     p.EchoSettleDelay.Std(),
		FinalDedupWindow:    p.FinalDedupWindow.Std(),
		HistoryDepth:        p.HistoryDepth,
		RestartDelay:        p.RestartDelay.Std(),
		PromptDelay:         p.PromptDelay.Std(),
		SessionSilence:      p.SessionSilence.Std(),
		MaxNoResponse:       p.MaxNoResponse,
		Prompts:             p.Prompts,
		ClosingMessage:      p.ClosingMessage,
	}, pipeline.Callbacks{
		OnStateChange: func(from, to pipeline.State) {
			slog.Debug("pipeline state", "from", from, "to", to)
		},
		OnFinalTranscript: func(text string) {
			slog.Info("transcript", "text", text)
		},
		OnResponse: func(text string) {
			slog.Info("response", "text", text)
		},
		OnError: func(err error) {
			slog.Warn("pipeline error", "err", err)
		},
		OnSessionEnd: func(reason string) {
			slog.Info("session ended", "session_id", a.sessionID, "reason", reason)
		},
	})
	if err != nil {
		return err
	}
	a.controller = ctrl
	a.closers = append(a.closers, ctrl.Close)
	return nil
}

// initServer builds the health/metrics HTTP server. Skipped when no listen
// address is configured.
func (a *App) initServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	var checkers []health.Checker
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "history", Check: pinger.Ping})
	}

	h := health.New(checkers...)
	h.SetStatus(func() map[string]any {
		return map[string]any{
			"session_id":     a.sessionID,
			"pipeline_state": a.controller.State().String(),
			"muted":          a.controller.Muted(),
			"history_turns":  a.hist.Len(),
			"started_at":     a.startedAt.Format(time.RFC3339),
			"uptime":         time.Since(a.startedAt).Round(time.Second).String(),
		}
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ---- accessors ----

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller { return a.controller }

// SessionID returns the conversation identifier for this run.
func (a *App) SessionID() string { return a.sessionID }

// ---- Run ----

// Run starts the voice session and the observability server, then blocks
// until ctx is cancelled. It returns the context error, or the first server
// error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.controller.Start()
	slog.Info("app running", "session_id", a.sessionID, "listen_addr", a.cfg.Server.ListenAddr)

	if a.server != nil {
		g.Go(func() error {
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
			return ctx.Err()
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	return g.Wait()
}

// ---- Shutdown ----

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
