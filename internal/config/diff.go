package config

import "slices"

// ConfigDiff describes what changed between two configs, grouped by how the
// change can be applied: log level and prompt texts take effect immediately,
// pipeline tunables need a session restart, provider and history changes need
// a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptsChanged is true if the proactive prompt rotation or the closing
	// message changed.
	PromptsChanged bool

	// PipelineChanged is true if any turn-taking tunable changed.
	PipelineChanged bool

	// ProvidersChanged is true if any provider selection, credential, or
	// option changed.
	ProvidersChanged bool

	// HistoryChanged is true if the history settings changed.
	HistoryChanged bool
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PromptsChanged && !d.PipelineChanged &&
		!d.ProvidersChanged && !d.HistoryChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Pipeline.Prompts, new.Pipeline.Prompts) ||
		old.Pipeline.ClosingMessage != new.Pipeline.ClosingMessage {
		d.PromptsChanged = true
	}

	if pipelineTunablesDiffer(&old.Pipeline, &new.Pipeline) {
		d.PipelineChanged = true
	}

	if providersDiffer(&old.Providers, &new.Providers) {
		d.ProvidersChanged = true
	}

	if old.History != new.History {
		d.HistoryChanged = true
	}

	return d
}

// pipelineTunablesDiffer compares every turn-taking tunable except the
// hot-reloadable prompt texts, which [Diff] tracks separately.
func pipelineTunablesDiffer(old, new *PipelineConfig) bool {
	return old.MinSpeechDuration != new.MinSpeechDuration ||
		old.SpeechEndThreshold != new.SpeechEndThreshold ||
		old.BargeInConfirmation != new.BargeInConfirmation ||
		old.BargeInCooldown != new.BargeInCooldown ||
		!slices.Equal(old.BargeInKeywords, new.BargeInKeywords) ||
		old.EchoSettleDelay != new.EchoSettleDelay ||
		old.FinalDedupWindow != new.FinalDedupWindow ||
		old.HistoryDepth != new.HistoryDepth ||
		old.RestartDelay != new.RestartDelay ||
		old.PromptDelay != new.PromptDelay ||
		old.SessionSilence != new.SessionSilence ||
		old.MaxNoResponse != new.MaxNoResponse ||
		old.Language != new.Language ||
		old.Voice != new.Voice
}

func providersDiffer(old, new *ProvidersConfig) bool {
	return !entryEqual(old.Source, new.Source) ||
		!entryEqual(old.STT, new.STT) ||
		!entriesEqual(old.STTFallbacks, new.STTFallbacks) ||
		!entryEqual(old.TTS, new.TTS) ||
		!entriesEqual(old.TTSFallbacks, new.TTSFallbacks) ||
		!entryEqual(old.VAD, new.VAD) ||
		!entryEqual(old.Command, new.Command) ||
		!entriesEqual(old.CommandFallbacks, new.CommandFallbacks)
}

// entryEqual compares two provider entries. Options maps are compared by
// top-level key and value; nested structures compare by interface equality,
// which is sufficient for the scalar option values providers accept.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
