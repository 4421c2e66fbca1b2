// Package openai provides a command.Processor backed directly by the OpenAI
// API. Prefer this over the any-llm-go adapter when the deployment only ever
// talks to OpenAI and wants the thinner dependency path.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/auralis-ai/auralis/pkg/command"
)

// defaultSystemPrompt instructs the model to produce speakable text.
const defaultSystemPrompt = "You are a helpful voice assistant. Answer in short, " +
	"natural spoken sentences. Do not use markdown, bullet points, or code blocks."

// Compile-time interface assertion.
var _ command.Processor = (*Processor)(nil)

// config holds optional configuration for the processor.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	systemPrompt string
	temperature  *float64
	maxTokens    int
}

// Option is a functional option for Processor.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSystemPrompt overrides the default voice-oriented system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature in [0.0, 2.0].
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = &t }
}

// WithMaxTokens caps the number of completion tokens per response.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// Processor implements command.Processor using the OpenAI API.
type Processor struct {
	client       oai.Client
	model        string
	systemPrompt string
	temperature  *float64
	maxTokens    int
}

// New constructs a new OpenAI Processor.
func New(apiKey, model string, opts ...Option) (*Processor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{systemPrompt: defaultSystemPrompt}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Processor{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: cfg.systemPrompt,
		temperature:  cfg.temperature,
		maxTokens:    cfg.maxTokens,
	}, nil
}

// Process implements command.Processor. It streams the model's completion
// text fragment by fragment.
func (p *Processor) Process(ctx context.Context, req command.Request) (<-chan string, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai: request text must not be empty")
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan string, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
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
		// A mid-stream failure surfaces to the caller as a short (possibly
		// empty) response; stream.Err() is intentionally not re-raised here.
	}()

	return ch, nil
}

// buildParams converts a command.Request into OpenAI SDK params.
func (p *Processor) buildParams(req command.Request) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)

	if p.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(p.systemPrompt))
	}
	for _, m := range req.History {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}
	messages = append(messages, oai.UserMessage(req.Text))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if p.temperature != nil {
		params.Temperature = param.NewOpt(*p.temperature)
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.maxTokens))
	}
	return params, nil
}

// convertMessage converts a command.Message to an OpenAI SDK message param.
func convertMessage(m command.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case command.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case command.RoleUser:
		return oai.UserMessage(m.Content), nil
	case command.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
