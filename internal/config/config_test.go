package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/auralis-ai/auralis/internal/config"
	"github.com/auralis-ai/auralis/pkg/audio"
	audiomock "github.com/auralis-ai/auralis/pkg/audio/mock"
	"github.com/auralis-ai/auralis/pkg/command"
	cmdmock "github.com/auralis-ai/auralis/pkg/command/mock"
	"github.com/auralis-ai/auralis/pkg/provider/stt"
	sttmock "github.com/auralis-ai/auralis/pkg/provider/stt/mock"
	"github.com/auralis-ai/auralis/pkg/provider/tts"
	ttsmock "github.com/auralis-ai/auralis/pkg/provider/tts/mock"
	"github.com/auralis-ai/auralis/pkg/provider/vad"
	vadmock "github.com/auralis-ai/auralis/pkg/provider/vad/mock"
	"gopkg.in/yaml.v3"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = true, want false", l)
		}
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"300ms", 300 * time.Millisecond, false},
		{"2s", 2 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"0s", 0, false},
		{"-500ms", -500 * time.Millisecond, false},
		{"300", 0, true},
		{"fast", 0, true},
	}
	for _, tc := range tests {
		var d config.Duration
		err := yaml.Unmarshal([]byte("\""+tc.input+"\""), &d)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Unmarshal(%q) error = nil, want error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unmarshal(%q) error = %v", tc.input, err)
			continue
		}
		if d.Std() != tc.want {
			t.Errorf("Unmarshal(%q) = %v, want %v", tc.input, d.Std(), tc.want)
		}
	}
}

// ---- registry ----

func TestRegistry_CreateRegisteredProviders(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	r.RegisterSource("mock", func(config.ProviderEntry) (audio.Source, error) {
		return &audiomock.Source{}, nil
	})
	r.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	r.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	r.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})
	r.RegisterCommand("mock", func(config.ProviderEntry) (command.Processor, error) {
		return &cmdmock.Processor{}, nil
	})

	entry := config.ProviderEntry{Name: "mock"}
	if _, err := r.CreateSource(entry); err != nil {
		t.Errorf("CreateSource() error = %v", err)
	}
	if _, err := r.CreateSTT(entry); err != nil {
		t.Errorf("CreateSTT() error = %v", err)
	}
	if _, err := r.CreateTTS(entry); err != nil {
		t.Errorf("CreateTTS() error = %v", err)
	}
	if _, err := r.CreateVAD(entry); err != nil {
		t.Errorf("CreateVAD() error = %v", err)
	}
	if _, err := r.CreateCommand(entry); err != nil {
		t.Errorf("CreateCommand() error = %v", err)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	_, err := r.CreateSTT(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_EntryIsPassedToFactory(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var got config.ProviderEntry
	r.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return &sttmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "mock", APIKey: "key-1", Model: "nova-2"}
	if _, err := r.CreateSTT(entry); err != nil {
		t.Fatalf("CreateSTT() error = %v", err)
	}
	if got.APIKey != "key-1" || got.Model != "nova-2" {
		t.Errorf("factory received %+v, want %+v", got, entry)
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	wantErr := errors.New("bad credentials")
	r.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, wantErr
	})

	_, err := r.CreateTTS(config.ProviderEntry{Name: "mock"})
	if !errors.Is(err, wantErr) {
		t.Errorf("CreateTTS() error = %v, want %v", err, wantErr)
	}
}
