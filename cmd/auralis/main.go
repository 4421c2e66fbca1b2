// Command auralis is the main entry point for the Auralis voice interaction
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/auralis-ai/auralis/internal/app"
	"github.com/auralis-ai/auralis/internal/config"
	"github.com/auralis-ai/auralis/internal/observe"
	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/audio/wsstream"
	"github.com/auralis-ai/auralis/pkg/command"
	"github.com/auralis-ai/auralis/pkg/command/anyllm"
	cmdopenai "github.com/auralis-ai/auralis/pkg/command/openai"
	"github.com/auralis-ai/auralis/pkg/provider/stt"
	"github.com/auralis-ai/auralis/pkg/provider/stt/deepgram"
	"github.com/auralis-ai/auralis/pkg/provider/stt/whisper"
	"github.com/auralis-ai/auralis/pkg/provider/tts"
	"github.com/auralis-ai/auralis/pkg/provider/tts/elevenlabs"
	"github.com/auralis-ai/auralis/pkg/provider/vad"
	"github.com/auralis-ai/auralis/pkg/provider/vad/energy"
)

// version is stamped by the release build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ---- CLI flags ----
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ---- Logger with hot-reloadable level ----
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// ---- Load configuration (watched for changes) ----
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(levelVar, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auralis: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auralis: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("auralis starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ---- Telemetry ----
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "auralis",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ---- Provider registry ----
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ---- Signal context ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ---- Graceful shutdown ----
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyConfigChange is the watcher callback. Log level changes apply
// immediately; everything else needs a restart and is only reported.
func applyConfigChange(levelVar *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PromptsChanged || d.PipelineChanged {
		slog.Warn("pipeline configuration changed — restart to apply")
	}
	if d.ProvidersChanged {
		slog.Warn("provider configuration changed — restart to apply")
	}
	if d.HistoryChanged {
		slog.Warn("history configuration changed — restart to apply")
	}
}

// ---- Provider wiring ----

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ---- Audio source ----

	reg.RegisterSource("wsstream", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []wsstream.Option
		if headers := dialHeaders(entry); len(headers) > 0 {
			opts = append(opts, wsstream.WithDialHeaders(headers))
		}
		return wsstream.New(entry.BaseURL, opts...)
	})

	// ---- STT ----

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if ms := optInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointingMs(ms))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ---- TTS ----

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ---- VAD ----

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ---- Command ----

	reg.RegisterCommand("openai", func(entry config.ProviderEntry) (command.Processor, error) {
		var opts []cmdopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, cmdopenai.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
			opts = append(opts, cmdopenai.WithSystemPrompt(prompt))
		}
		return cmdopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, and llamafile all
	// share the any-llm pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterCommand(providerName, func(entry config.ProviderEntry) (command.Processor, error) {
			var backendOpts []anyllmlib.Option
			if entry.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, backendOpts, commandOpts(entry)...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterCommand("ollama", func(entry config.ProviderEntry) (command.Processor, error) {
		var backendOpts []anyllmlib.Option
		if entry.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, backendOpts, commandOpts(entry)...)
	})

	reg.RegisterCommand("canned", func(entry config.ProviderEntry) (command.Processor, error) {
		return command.NewCanned(optStrings(entry.Options, "replies")...), nil
	})
}

// commandOpts extracts the anyllm processor options shared by every backend.
func commandOpts(entry config.ProviderEntry) []anyllm.Option {
	var opts []anyllm.Option
	if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
		opts = append(opts, anyllm.WithSystemPrompt(prompt))
	}
	return opts
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// ---- Audio source + sink ----

	srcEntry := cfg.Providers.Source
	if srcEntry.Name == "" {
		srcEntry.Name = "wsstream"
	}
	source, err := reg.CreateSource(srcEntry)
	if err != nil {
		return nil, fmt.Errorf("create audio source %q: %w", srcEntry.Name, err)
	}
	ps.Source = source
	slog.Info("provider created", "kind", "source", "name", srcEntry.Name)

	playbackURL := optString(srcEntry.Options, "playback_url")
	if playbackURL == "" {
		return nil, errors.New("providers.source.options.playback_url is required")
	}
	var sinkOpts []wsstream.SinkOption
	if headers := dialHeaders(srcEntry); len(headers) > 0 {
		sinkOpts = append(sinkOpts, wsstream.WithSinkDialHeaders(headers))
	}
	sink, err := wsstream.NewSink(playbackURL, sinkOpts...)
	if err != nil {
		return nil, fmt.Errorf("create audio sink: %w", err)
	}
	ps.Sink = sink

	// ---- STT ----

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = app.NamedSTT{Name: cfg.Providers.STT.Name, Provider: sttPrimary}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedSTT{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "stt-fallback", "name", entry.Name)
	}

	// ---- TTS ----

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = app.NamedTTS{Name: cfg.Providers.TTS.Name, Provider: ttsPrimary}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		ps.TTSFallbacks = append(ps.TTSFallbacks, app.NamedTTS{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "tts-fallback", "name", entry.Name)
	}

	// ---- VAD ----

	if name := cfg.Providers.VAD.Name; name != "" {
		engine, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad engine %q: %w", name, err)
		}
		ps.VAD = engine
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	// ---- Command ----

	if name := cfg.Providers.Command.Name; name != "" {
		proc, err := reg.CreateCommand(cfg.Providers.Command)
		if err != nil {
			return nil, fmt.Errorf("create command processor %q: %w", name, err)
		}
		ps.Command = app.NamedCommand{Name: name, Processor: proc}
		slog.Info("provider created", "kind", "command", "name", name)
	}

	for _, entry := range cfg.Providers.CommandFallbacks {
		p, err := reg.CreateCommand(entry)
		if err != nil {
			return nil, fmt.Errorf("create command fallback %q: %w", entry.Name, err)
		}
		ps.CommandFallbacks = append(ps.CommandFallbacks, app.NamedCommand{Name: entry.Name, Processor: p})
		slog.Info("provider created", "kind", "command-fallback", "name", entry.Name)
	}

	return ps, nil
}

// ---- Startup summary ----

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Auralis — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Source", orDefault(cfg.Providers.Source.Name, "wsstream"), "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", orDefault(cfg.Providers.VAD.Name, "energy"), "")
	printProvider("Command", orDefault(cfg.Providers.Command.Name, "canned"), cfg.Providers.Command.Model)
	fallbacks := len(cfg.Providers.STTFallbacks) + len(cfg.Providers.TTSFallbacks) + len(cfg.Providers.CommandFallbacks)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", fallbacks)
	if cfg.History.PostgresDSN != "" {
		fmt.Printf("║  History         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  History         : %-19s ║\n", "in-memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ---- Logger ----

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ---- Helpers ----

// dialHeaders builds WebSocket handshake headers from a source entry. An
// "auth_token" option becomes a bearer Authorization header.
func dialHeaders(entry config.ProviderEntry) map[string]string {
	token := optString(entry.Options, "auth_token")
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// integers as int; returns 0 for anything else.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}

// optStrings extracts a string list from a provider Options map.
func optStrings(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
