package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// GeminiConfig configures the hosted Gemini provider.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string

	// Model is the generation model name.
	Model string
}

// ApplyDefaults sets default values for unset fields.
func (c *GeminiConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "gemini-1.5-flash"
	}
}

// Gemini completes prompts through the Gemini API.
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGemini creates a Gemini completion client. Construction does not
// contact the API.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("gemini llm: api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     client.GenerativeModel(cfg.Model),
		modelName: cfg.Model,
	}, nil
}

// Complete sends the prompt and concatenates the text parts of the first
// candidate. A response with no candidates (quota exhaustion and safety
// blocks both surface this way) counts as a provider failure so callers
// may retry.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", triage.ErrProviderUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini returned no candidates", triage.ErrProviderUnavailable)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: gemini returned no text parts", triage.ErrProviderUnavailable)
	}
	return sb.String(), nil
}

// Close releases the underlying client connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

var _ Client = (*Gemini)(nil)
