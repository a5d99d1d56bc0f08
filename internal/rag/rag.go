// Package rag answers questions over the decided-email corpus: embed the
// question, retrieve similar past decisions, ask the model, then score
// the answer and regenerate until it clears the quality bar.
package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/llm"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/rag"

const answerPromptTemplate = `Context information:
%s

Based on the above context, please answer the question: %s`

const scorePromptTemplate = `Rate how well the answer addresses the question. Reply with a single number between 0.0 and 1.0 and nothing else.

Question: %s

Answer: %s

Rating:`

// Embedder is the slice of the embedding provider the query path uses.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever fetches similar past decisions for a query vector.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, k int, excludeID string) ([]retrieval.Neighbor, error)
}

// Config holds the answer loop settings.
type Config struct {
	// QualityThreshold is the minimum acceptable answer score.
	QualityThreshold float64

	// MaxAttempts bounds the regenerate loop.
	MaxAttempts int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.QualityThreshold == 0 {
		c.QualityThreshold = 0.7
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
}

// Source cites one past decision that grounded an answer.
type Source struct {
	EmailID    string  `json:"email_id"`
	DecisionID string  `json:"decision_id"`
	Verdict    string  `json:"verdict"`
	Similarity float64 `json:"similarity"`
}

// Answer is a scored query response.
type Answer struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Quality  float64  `json:"quality"`
	Attempts int      `json:"attempts"`
}

// Service runs the retrieval-augmented answer loop.
type Service struct {
	embedder  Embedder
	retriever Retriever
	llm       llm.Client
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates the query service.
func New(embedder Embedder, retriever Retriever, client llm.Client, cfg Config, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	return &Service{
		embedder:  embedder,
		retriever: retriever,
		llm:       client,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// Query answers a question about the user's email decisions. The answer
// is scored by the model and regenerated until it clears the quality
// threshold or attempts run out; the best attempt wins. An empty index
// means an answer without context, not a failure.
func (s *Service) Query(ctx context.Context, question string) (*Answer, error) {
	ctx, span := s.tracer.Start(ctx, "rag.Query")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", triage.ErrInvalidInput)
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("embed question: %w", err)
	}

	neighbors, err := s.retriever.Retrieve(ctx, vector, 0, "")
	if err != nil {
		if !errors.Is(err, triage.ErrIndexEmpty) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "retrieve failed")
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		s.logger.Debug("empty preference index, answering without context")
		neighbors = nil
	}

	contextBlock := buildContext(neighbors)
	prompt := fmt.Sprintf(answerPromptTemplate, contextBlock, question)

	best := &Answer{Sources: sourcesFrom(neighbors)}
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		best.Attempts = attempt

		text, err := s.llm.Complete(ctx, prompt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			return nil, fmt.Errorf("generate answer: %w", err)
		}

		quality, err := s.scoreAnswer(ctx, question, text)
		if err != nil {
			return nil, err
		}

		if quality > best.Quality || best.Answer == "" {
			best.Answer = text
			best.Quality = quality
		}
		if quality >= s.config.QualityThreshold {
			break
		}

		s.logger.Debug("answer below quality threshold, regenerating",
			zap.Int("attempt", attempt),
			zap.Float64("quality", quality))
	}

	span.SetAttributes(
		attribute.Int("rag.attempts", best.Attempts),
		attribute.Float64("rag.quality", best.Quality),
		attribute.Int("rag.sources", len(best.Sources)),
	)
	span.SetStatus(codes.Ok, "success")

	return best, nil
}

// scoreAnswer asks the model to rate the answer. An unparseable rating
// counts as zero so the loop regenerates; a failed scoring call is an
// error.
func (s *Service) scoreAnswer(ctx context.Context, question, answer string) (float64, error) {
	reply, err := s.llm.Complete(ctx, fmt.Sprintf(scorePromptTemplate, question, answer))
	if err != nil {
		return 0, fmt.Errorf("score answer: %w", err)
	}

	quality, err := firstFloat(reply)
	if err != nil {
		s.logger.Warn("unparseable quality rating", zap.String("reply", flatten(reply)))
		return 0, nil
	}
	return quality, nil
}

func buildContext(neighbors []retrieval.Neighbor) string {
	if len(neighbors) == 0 {
		return "No stored email decisions matched this question."
	}

	entries := make([]string, len(neighbors))
	for i, n := range neighbors {
		entries[i] = fmt.Sprintf("[decided: %s, similarity %.2f]\n%s", n.Verdict, n.Similarity, n.Text)
	}
	return strings.Join(entries, "\n---\n")
}

func sourcesFrom(neighbors []retrieval.Neighbor) []Source {
	if len(neighbors) == 0 {
		return nil
	}
	sources := make([]Source, len(neighbors))
	for i, n := range neighbors {
		sources[i] = Source{
			EmailID:    n.EmailID,
			DecisionID: n.DecisionID,
			Verdict:    n.Verdict,
			Similarity: n.Similarity,
		}
	}
	return sources
}

var floatPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// firstFloat extracts the first number in the reply, clamped to [0,1].
func firstFloat(reply string) (float64, error) {
	match := floatPattern.FindString(reply)
	if match == "" {
		return 0, fmt.Errorf("no number in %q", reply)
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", match, err)
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, nil
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
