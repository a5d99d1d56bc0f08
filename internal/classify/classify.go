// Package classify turns an email plus retrieved context into a keep or
// discard decision.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/llm"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/classify"

// contextSnippetLen bounds each context entry in the prompt.
const contextSnippetLen = 240

// promptBodyLimit bounds the email body in the prompt.
const promptBodyLimit = 4000

// systemPrompt frames the task and pins the response format.
const systemPrompt = `You are an email triage assistant for a single user. Decide whether the email below should be kept in the inbox or discarded, following the user's past decisions on similar emails where they apply. When no past decisions are available, judge the email on its own merits and report lower confidence.

Respond with a JSON object containing:
- "verdict": either "keep" or "discard"
- "confidence": how certain you are (0.0 to 1.0)
- "rationale": a one-sentence explanation

Respond ONLY with the JSON object, no additional text.`

// Config holds classifier retry settings.
type Config struct {
	// MaxAttempts bounds LLM calls per email.
	MaxAttempts int

	// RetryBase is the first backoff delay; doubles per attempt with
	// jitter.
	RetryBase time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase == 0 {
		c.RetryBase = time.Second
	}
}

// Classifier asks the model for a verdict and parses its response. A
// classification is a single idempotent request per email: failed parses
// and transient provider errors are retried with exponential backoff, and
// an email whose attempts are exhausted stays unclassified. It is never
// defaulted to either verdict.
type Classifier struct {
	llm    llm.Client
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a Classifier over the given completion client.
func New(client llm.Client, cfg Config, logger *zap.Logger) (*Classifier, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	return &Classifier{
		llm:    client,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Classify decides keep or discard for email given its retrieved context.
// Context is capped at the retrieval ceiling regardless of what the
// caller passes. Returns triage.ErrClassificationFailed once retries are
// exhausted.
func (c *Classifier) Classify(ctx context.Context, email *triage.EmailRecord, neighbors []retrieval.Neighbor) (triage.Decision, error) {
	ctx, span := c.tracer.Start(ctx, "classify.Classify")
	defer span.End()

	if email == nil {
		return triage.Decision{}, fmt.Errorf("%w: nil email", triage.ErrInvalidInput)
	}
	if len(neighbors) > retrieval.MaxK {
		neighbors = neighbors[:retrieval.MaxK]
	}

	span.SetAttributes(
		attribute.String("email.id", email.ID),
		attribute.Int("classify.context_size", len(neighbors)),
	)

	prompt := buildPrompt(email, neighbors)

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.backoff(attempt - 1)):
			case <-ctx.Done():
				return triage.Decision{}, ctx.Err()
			}
		}

		out, err := c.llm.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, triage.ErrInvalidInput) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "invalid input")
				return triage.Decision{}, err
			}
			if ctx.Err() != nil {
				return triage.Decision{}, ctx.Err()
			}
			if !triage.IsRetryable(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "completion failed")
				return triage.Decision{}, fmt.Errorf("%w: %v", triage.ErrClassificationFailed, err)
			}
			lastErr = err
			c.logger.Warn("classification attempt failed",
				zap.String("email_id", email.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		decision, err := parseDecision(out)
		if err != nil {
			lastErr = err
			c.logger.Warn("unparseable classification response",
				zap.String("email_id", email.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		span.SetAttributes(
			attribute.String("classify.verdict", string(decision.Verdict)),
			attribute.Float64("classify.confidence", decision.Confidence),
			attribute.Int("classify.attempts", attempt),
		)
		span.SetStatus(codes.Ok, "success")
		return decision, nil
	}

	err := fmt.Errorf("%w after %d attempts: %v", triage.ErrClassificationFailed, c.config.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "attempts exhausted")
	return triage.Decision{}, err
}

// backoff returns the delay before the given retry: base doubled per
// attempt plus up to 50% jitter.
func (c *Classifier) backoff(retry int) time.Duration {
	d := c.config.RetryBase * time.Duration(1<<(retry-1))
	return d + time.Duration(rand.Float64()*float64(d)*0.5)
}

// buildPrompt assembles the classification prompt: task framing, past
// decisions as numbered context entries, then the email itself.
func buildPrompt(email *triage.EmailRecord, neighbors []retrieval.Neighbor) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")

	if len(neighbors) == 0 {
		sb.WriteString("No past decisions are available for context.\n")
	} else {
		sb.WriteString("Past decisions on similar emails:\n")
		for i, n := range neighbors {
			fmt.Fprintf(&sb, "%d. [%s, similarity %.2f] %s\n",
				i+1, n.Verdict, n.Similarity, truncate(flatten(n.Text), contextSnippetLen))
		}
	}

	sb.WriteString("\nEmail to classify:\n")
	fmt.Fprintf(&sb, "From: %s\n", email.Sender)
	fmt.Fprintf(&sb, "Subject: %s\n", email.Subject)

	body := email.Body
	if body == "" {
		body = email.Snippet
	}
	fmt.Fprintf(&sb, "Body:\n%s\n", truncate(body, promptBodyLimit))

	return sb.String()
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// flatten collapses whitespace runs so a context entry stays on one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// modelDecision is the JSON shape the model is asked to produce.
type modelDecision struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// parseDecision extracts the decision from a model response. Models
// sometimes wrap the object in markdown fences or prose; both are
// stripped before unmarshalling. An unknown verdict is a parse failure,
// confidence is clamped to [0,1].
func parseDecision(raw string) (triage.Decision, error) {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var resp modelDecision
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return triage.Decision{}, fmt.Errorf("parse model response: %w", err)
	}

	verdict := triage.Verdict(strings.ToLower(strings.TrimSpace(resp.Verdict)))
	if !verdict.Valid() {
		return triage.Decision{}, fmt.Errorf("model returned unknown verdict %q", resp.Verdict)
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return triage.Decision{
		Verdict:    verdict,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(resp.Rationale),
	}, nil
}
