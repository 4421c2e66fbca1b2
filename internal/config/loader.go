package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"source":  {"wsstream"},
	"stt":     {"deepgram", "whisper"},
	"tts":     {"elevenlabs"},
	"vad":     {"energy"},
	"command": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "canned"},
}

// envPattern matches ${VAR} references in the raw config text.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} reference in s with the value of the
// corresponding environment variable. Unset variables expand to the empty
// string. Bare $VAR references are left untouched so that YAML values
// containing dollar signs survive.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// Load reads the YAML configuration file at path, expands ${ENV_VAR}
// references, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV_VAR} references,
// and validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := newStrictDecoder(ExpandEnv(string(data)))
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newStrictDecoder returns a YAML decoder that rejects unknown fields, so
// typos in config keys fail loudly instead of being silently ignored.
func newStrictDecoder(s string) *yaml.Decoder {
	dec := yaml.NewDecoder(strings.NewReader(s))
	dec.KnownFields(true)
	return dec
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// issues (unknown provider names, values outside recommended ranges) are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("source", cfg.Providers.Source.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("command", cfg.Providers.Command.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	for i, e := range cfg.Providers.CommandFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.command_fallbacks[%d].name is required", i))
		}
		validateProviderName("command", e.Name)
	}

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.Command.Name == "" {
		slog.Warn("providers.command is not configured; falling back to canned replies")
	}

	// Pipeline tunables
	p := &cfg.Pipeline
	for _, f := range []struct {
		name  string
		value Duration
	}{
		{"pipeline.min_speech_duration", p.MinSpeechDuration},
		{"pipeline.speech_end_threshold", p.SpeechEndThreshold},
		{"pipeline.barge_in_confirmation", p.BargeInConfirmation},
		{"pipeline.barge_in_cooldown", p.BargeInCooldown},
		{"pipeline.echo_settle_delay", p.EchoSettleDelay},
		{"pipeline.final_dedup_window", p.FinalDedupWindow},
		{"pipeline.restart_delay", p.RestartDelay},
		{"pipeline.prompt_delay", p.PromptDelay},
		{"pipeline.session_silence", p.SessionSilence},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	if p.SpeechEndThreshold != 0 {
		if d := p.SpeechEndThreshold.Std(); d < 800*time.Millisecond || d > 1500*time.Millisecond {
			slog.Warn("pipeline.speech_end_threshold outside recommended range",
				"value", d, "recommended_min", 800*time.Millisecond, "recommended_max", 1500*time.Millisecond)
		}
	}
	if p.EchoSettleDelay != 0 {
		if d := p.EchoSettleDelay.Std(); d < 500*time.Millisecond || d > 1500*time.Millisecond {
			slog.Warn("pipeline.echo_settle_delay outside supported range, will be clamped",
				"value", d, "min", 500*time.Millisecond, "max", 1500*time.Millisecond)
		}
	}
	if p.HistoryDepth < 0 {
		errs = append(errs, errors.New("pipeline.history_depth must not be negative"))
	}
	if p.MaxNoResponse < 0 {
		errs = append(errs, errors.New("pipeline.max_no_response must not be negative"))
	}
	if p.Voice.SpeedFactor != 0 {
		if p.Voice.SpeedFactor < 0.5 || p.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("pipeline.voice.speed_factor %.2f is out of range [0.5, 2.0]", p.Voice.SpeedFactor))
		}
	}

	// History
	if cfg.History.MaxTurns < 0 {
		errs = append(errs, errors.New("history.max_turns must not be negative"))
	}
	if cfg.History.DedupWindow < 0 {
		errs = append(errs, errors.New("history.dedup_window must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
