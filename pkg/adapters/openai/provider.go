// Package openai implements the reasoning provider on an OpenAI-compatible chat
// completions API. Structured calls send the JSON schema of the output type both
// as the response format and in the system prompt, so servers that ignore
// response_format still see it.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Response format modes.
const (
	FormatJSONSchema = "json_schema"
	FormatJSONObject = "json_object"
)

// Config holds the connection settings.
type Config struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	// Format is json_schema (default) or json_object for servers without schema support.
	Format      string  `yaml:"format" mapstructure:"format"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
}

// Provider is a ports.ReasoningProvider backed by go-openai.
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger

	schemas sync.Map // reflect.Type -> *jsonschema.Schema
}

// Option configures the Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a Provider.
func New(cfg Config, opts ...Option) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSONSchema
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	p := &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProduceText implements ports.ReasoningProvider.
func (p *Provider) ProduceText(ctx context.Context, prompt ports.Prompt) (string, error) {
	return p.complete(ctx, prompt, prompt.System, nil)
}

// ProduceStructured implements ports.ReasoningProvider.
func (p *Provider) ProduceStructured(ctx context.Context, prompt ports.Prompt, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("structured output target must be a non-nil pointer, got %T", out)
	}
	schema := p.schemaFor(rv.Type().Elem())
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	system := strings.TrimSpace(prompt.System + "\n\nRespond with a single JSON object matching this JSON schema:\n" + string(raw))
	format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if p.cfg.Format == FormatJSONSchema {
		format = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName(prompt.Name),
				Schema: schema,
			},
		}
	}

	content, err := p.complete(ctx, prompt, system, format)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(content)), out); err != nil {
		p.logger.Debug("structured output did not decode", "prompt", prompt.Name, "content", content)
		return fmt.Errorf("%w: %v", ports.ErrMalformedOutput, err)
	}
	return nil
}

func (p *Provider) complete(ctx context.Context, prompt ports.Prompt, system string, format *openai.ChatCompletionResponseFormat) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.User})

	req := openai.ChatCompletionRequest{
		Model:          p.cfg.Model,
		Messages:       messages,
		Temperature:    p.cfg.Temperature,
		ResponseFormat: format,
	}

	p.logger.Debug("reasoning call", "prompt", prompt.Name, "model", p.cfg.Model)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ports.ErrEmptyOutput
	}
	p.logger.Debug("reasoning reply", "prompt", prompt.Name, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) schemaFor(t reflect.Type) *jsonschema.Schema {
	if s, ok := p.schemas.Load(t); ok {
		return s.(*jsonschema.Schema)
	}
	r := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	s := r.ReflectFromType(t)
	s.Version = ""
	p.schemas.Store(t, s)
	return s
}

var invalidName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func schemaName(name string) string {
	if name == "" {
		return "output"
	}
	return invalidName.ReplaceAllString(name, "_")
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
