package embedding

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// OpenAIConfig holds configuration for any OpenAI-compatible embedding
// endpoint: OpenAI itself or a local TEI (Text Embeddings Inference) server.
type OpenAIConfig struct {
	// BaseURL is the endpoint base URL.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey authenticates the endpoint. Optional for TEI.
	APIKey string

	// Dimension is the vector length the model produces.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080/v1"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
}

// OpenAI embeds text through an OpenAI-compatible HTTP API via langchaingo.
type OpenAI struct {
	embedder  *lcembeddings.EmbedderImpl
	modelName string
	dimension int
}

// NewOpenAI creates the provider. Construction is offline; the first embed
// call reaches the endpoint.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	cfg.ApplyDefaults()

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo refuses an empty token; TEI ignores whatever is sent.
		apiKey = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAI{
		embedder:  embedder,
		modelName: cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// EmbedDocuments embeds a batch of texts.
func (o *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding documents: %v", triage.ErrProviderUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: endpoint returned %d embeddings for %d texts",
			triage.ErrProviderUnavailable, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := o.checkDimension(v); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single text.
func (o *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	vector, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", triage.ErrProviderUnavailable, err)
	}
	if err := o.checkDimension(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (o *OpenAI) checkDimension(values []float32) error {
	if len(values) != o.dimension {
		return fmt.Errorf("model %s returned dimension %d, configured %d", o.modelName, len(values), o.dimension)
	}
	return nil
}

// Dimension reports the configured vector length.
func (o *OpenAI) Dimension() int {
	return o.dimension
}

// Close is a no-op; the provider holds no connection state.
func (o *OpenAI) Close() error {
	return nil
}

// Ensure OpenAI implements Provider.
var _ Provider = (*OpenAI)(nil)
