// Package llm provides the completion client behind classification and
// query answering.
//
// Two providers sit behind one factory: gemini (hosted, the default) and
// openai (any OpenAI-compatible endpoint). The factory wraps whichever
// provider is selected in a shared rate limiter sized to the provider
// quota, so classification and query traffic draw from the same budget.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// Client is the completion contract. Complete is a single idempotent
// request; retry policy belongs to the caller.
type Client interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)

	// Close releases provider resources.
	Close() error
}

// New creates the configured provider wrapped in a rate limiter. Gemini
// needs a context for client construction; openai ignores it.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	var (
		inner Client
		err   error
	)

	switch cfg.Provider {
	case "gemini", "":
		inner, err = NewGemini(ctx, GeminiConfig{
			APIKey: cfg.APIKey.Value(),
			Model:  cfg.Model,
		})
	case "openai":
		inner, err = NewOpenAI(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider: %q (supported: gemini, openai)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &limitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: cfg.Timeout.Duration(),
	}, nil
}

// limitedClient throttles completions and bounds each call with a timeout.
type limitedClient struct {
	inner   Client
	limiter *rate.Limiter
	timeout time.Duration
}

func (c *limitedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.inner.Complete(ctx, prompt)
}

func (c *limitedClient) Close() error {
	return c.inner.Close()
}

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: empty prompt", triage.ErrInvalidInput)
	}
	return nil
}
