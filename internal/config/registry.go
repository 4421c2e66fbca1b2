package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/command"
	"github.com/auralis-ai/auralis/pkg/provider/stt"
	"github.com/auralis-ai/auralis/pkg/provider/tts"
	"github.com/auralis-ai/auralis/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	source  map[string]func(ProviderEntry) (audio.Source, error)
	stt     map[string]func(ProviderEntry) (stt.Provider, error)
	tts     map[string]func(ProviderEntry) (tts.Provider, error)
	vad     map[string]func(ProviderEntry) (vad.Engine, error)
	command map[string]func(ProviderEntry) (command.Processor, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		source:  make(map[string]func(ProviderEntry) (audio.Source, error)),
		stt:     make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:     make(map[string]func(ProviderEntry) (tts.Provider, error)),
		vad:     make(map[string]func(ProviderEntry) (vad.Engine, error)),
		command: make(map[string]func(ProviderEntry) (command.Processor, error)),
	}
}

// RegisterSource registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterCommand registers a command processor factory under name.
func (r *Registry) RegisterCommand(name string, factory func(ProviderEntry) (command.Processor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.command[name] = factory
}

// CreateSource instantiates an audio source using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSource(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCommand instantiates a command processor using the factory registered under entry.Name.
func (r *Registry) CreateCommand(entry ProviderEntry) (command.Processor, error) {
	r.mu.RLock()
	factory, ok := r.command[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: command/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
