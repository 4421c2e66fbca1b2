// Package anyllm provides a command.Processor backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface
// that supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq,
// and more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.NewOllama("llama3.2")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/auralis-ai/auralis/pkg/command"
)

// defaultSystemPrompt instructs the model to produce speakable text: no
// markdown, no lists, short sentences.
const defaultSystemPrompt = "You are a helpful voice assistant. Answer in short, " +
	"natural spoken sentences. Do not use markdown, bullet points, or code blocks."

// Compile-time interface assertion.
var _ command.Processor = (*Processor)(nil)

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithSystemPrompt overrides the default voice-oriented system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(p *Processor) { p.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature in [0.0, 2.0].
func WithTemperature(t float64) Option {
	return func(p *Processor) { p.temperature = &t }
}

// WithMaxTokens caps the number of completion tokens per response.
func WithMaxTokens(n int) Option {
	return func(p *Processor) { p.maxTokens = n }
}

// Processor implements command.Processor by wrapping any-llm-go.
type Processor struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
	temperature  *float64
	maxTokens    int
}

// New creates a new Processor backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o-mini",
// "claude-3-5-haiku-latest").
//
// backendOpts are any-llm-go configuration options (e.g.,
// anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). If no API key option is
// provided, the backend falls back to the relevant environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, etc.).
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Processor, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	p := &Processor{
		backend:      backend,
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewOpenAI creates a Processor backed by OpenAI.
// Without backend options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("openai", model, backendOpts)
}

// NewAnthropic creates a Processor backed by Anthropic.
// Without backend options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("anthropic", model, backendOpts)
}

// NewGemini creates a Processor backed by Google Gemini.
// Without backend options, it reads GEMINI_API_KEY or GOOGLE_API_KEY.
func NewGemini(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("gemini", model, backendOpts)
}

// NewOllama creates a Processor backed by Ollama (local inference).
// Without backend options, it connects to http://localhost:11434.
func NewOllama(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("ollama", model, backendOpts)
}

// NewDeepSeek creates a Processor backed by DeepSeek.
// Without backend options, it reads the DEEPSEEK_API_KEY environment variable.
func NewDeepSeek(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("deepseek", model, backendOpts)
}

// NewMistral creates a Processor backed by Mistral AI.
// Without backend options, it reads the MISTRAL_API_KEY environment variable.
func NewMistral(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("mistral", model, backendOpts)
}

// NewGroq creates a Processor backed by Groq.
// Without backend options, it reads the GROQ_API_KEY environment variable.
func NewGroq(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("groq", model, backendOpts)
}

// NewLlamaCpp creates a Processor backed by a running llama.cpp server.
// Without backend options, it connects to http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("llamacpp", model, backendOpts)
}

// NewLlamaFile creates a Processor backed by a running llamafile server.
func NewLlamaFile(model string, backendOpts ...anyllmlib.Option) (*Processor, error) {
	return New("llamafile", model, backendOpts)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Process implements command.Processor. It streams the model's completion
// text fragment by fragment.
func (p *Processor) Process(ctx context.Context, req command.Request) (<-chan string, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("anyllm: request text must not be empty")
	}

	params := p.buildParams(req)
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan string, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- text:
			case <-ctx.Done():
				return
			}
		}

		// Drain the error channel so the backend goroutine can exit. A
		// mid-stream failure surfaces to the caller as a short (possibly
		// empty) response.
		<-backendErrs
	}()

	return ch, nil
}

// buildParams converts a command.Request into anyllm CompletionParams.
func (p *Processor) buildParams(req command.Request) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.History)+2)

	if p.systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: p.systemPrompt,
		})
	}
	for _, m := range req.History {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.Text,
	})

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if p.temperature != nil {
		t := *p.temperature
		params.Temperature = &t
	}
	if p.maxTokens > 0 {
		mt := p.maxTokens
		params.MaxTokens = &mt
	}
	return params
}
