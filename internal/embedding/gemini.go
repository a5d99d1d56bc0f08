package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// GeminiConfig holds configuration for the hosted Gemini provider.
type GeminiConfig struct {
	// APIKey authenticates against the Generative Language API.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimension is the vector length the model produces.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *GeminiConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-004"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
}

// Gemini embeds text through the Generative Language API. Documents and
// queries use separate model handles because the task type hint rides on
// the handle and the two sides of retrieval want different hints.
type Gemini struct {
	client     *genai.Client
	docModel   *genai.EmbeddingModel
	queryModel *genai.EmbeddingModel
	modelName  string
	dimension  int
}

// NewGemini creates the provider. The context covers client construction
// only, not later embed calls.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("gemini embedding: api key required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	docModel := client.EmbeddingModel(cfg.Model)
	docModel.TaskType = genai.TaskTypeRetrievalDocument

	queryModel := client.EmbeddingModel(cfg.Model)
	queryModel.TaskType = genai.TaskTypeRetrievalQuery

	return &Gemini{
		client:     client,
		docModel:   docModel,
		queryModel: queryModel,
		modelName:  cfg.Model,
		dimension:  cfg.Dimension,
	}, nil
}

// EmbedDocuments embeds a batch of texts in one API call.
func (g *Gemini) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	batch := g.docModel.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := g.docModel.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini batch embed: %v", triage.ErrProviderUnavailable, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts",
			triage.ErrProviderUnavailable, len(res.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if err := g.checkDimension(emb.Values); err != nil {
			return nil, err
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// EmbedQuery embeds a single text with the retrieval-query task hint.
func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	res, err := g.queryModel.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %v", triage.ErrProviderUnavailable, err)
	}
	if res == nil || res.Embedding == nil {
		return nil, fmt.Errorf("%w: gemini returned no embedding", triage.ErrProviderUnavailable)
	}
	if err := g.checkDimension(res.Embedding.Values); err != nil {
		return nil, err
	}
	return res.Embedding.Values, nil
}

// checkDimension catches a model change behind the configured name. The
// index is sized to one dimension; a mismatch means the corpus must be
// re-embedded, not silently mixed.
func (g *Gemini) checkDimension(values []float32) error {
	if len(values) != g.dimension {
		return fmt.Errorf("model %s returned dimension %d, configured %d", g.modelName, len(values), g.dimension)
	}
	return nil
}

// Dimension reports the configured vector length.
func (g *Gemini) Dimension() int {
	return g.dimension
}

// Close closes the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Ensure Gemini implements Provider.
var _ Provider = (*Gemini)(nil)
