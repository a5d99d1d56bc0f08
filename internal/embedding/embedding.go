// Package embedding turns email text into the fixed-dimension vectors the
// preference index stores.
//
// Three providers sit behind one factory: gemini (hosted, the default),
// openai (any OpenAI-compatible endpoint, including a local TEI server) and
// fastembed (local ONNX models, cgo builds only). Providers are
// deterministic for identical input and model version. A failed embedding
// is an error; there is no zero-vector fallback.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// MaxTextBytes is the largest accepted input text. Longer inputs are a
// caller mistake: the syncer truncates email bodies deliberately before
// embedding and logs that it did.
const MaxTextBytes = 32 * 1024

// Provider is the embedding contract.
type Provider interface {
	// EmbedDocuments embeds a batch of texts for indexing.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single text for lookup.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the vector length this provider produces.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// New creates the configured embedding provider. Gemini needs a context for
// client construction; the other providers ignore it.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini", "":
		p, err := NewGemini(ctx, GeminiConfig{
			APIKey:    cfg.APIKey.Value(),
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case "openai":
		p, err := NewOpenAI(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case "fastembed":
		p, err := NewFastEmbed(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %q (supported: gemini, openai, fastembed)", cfg.Provider)
	}
}

// FastEmbedConfig holds configuration for the local ONNX provider. It lives
// outside the build-tagged files so the factory compiles either way.
type FastEmbedConfig struct {
	// Model is the embedding model name, e.g. BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir is the model download cache directory.
	CacheDir string

	// MaxLength is the maximum input sequence length in tokens.
	MaxLength int
}

// validateText rejects empty and oversized inputs before they reach a
// provider.
func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", triage.ErrInvalidInput)
	}
	if len(text) > MaxTextBytes {
		return fmt.Errorf("%w: text is %d bytes, limit %d", triage.ErrInvalidInput, len(text), MaxTextBytes)
	}
	return nil
}

func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts", triage.ErrInvalidInput)
	}
	for i, t := range texts {
		if err := validateText(t); err != nil {
			return fmt.Errorf("text %d: %w", i, err)
		}
	}
	return nil
}
