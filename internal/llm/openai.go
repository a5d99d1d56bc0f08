package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL points at an OpenAI-compatible endpoint. Empty means the
	// hosted OpenAI API.
	BaseURL string

	// Model is the generation model name.
	Model string

	// APIKey authenticates the endpoint. Optional for local servers.
	APIKey string
}

// ApplyDefaults sets default values for unset fields.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
}

// OpenAI completes prompts through any OpenAI-compatible chat endpoint.
type OpenAI struct {
	llm       *openai.LLM
	modelName string
}

// NewOpenAI creates an OpenAI-compatible completion client. Construction
// does not contact the endpoint.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	cfg.ApplyDefaults()

	// langchaingo refuses an empty token; local OpenAI-compatible servers
	// ignore whatever is sent.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused"
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai llm client: %w", err)
	}

	return &OpenAI{llm: llm, modelName: cfg.Model}, nil
}

// Complete sends the prompt as a single user message.
func (c *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: openai generate: %v", triage.ErrProviderUnavailable, err)
	}
	if out == "" {
		return "", fmt.Errorf("%w: openai returned an empty completion", triage.ErrProviderUnavailable)
	}
	return out, nil
}

// Close is a no-op; the underlying HTTP client holds no resources.
func (c *OpenAI) Close() error {
	return nil
}

var _ Client = (*OpenAI)(nil)
