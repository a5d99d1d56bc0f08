// Package retrieval selects the preference-index neighbors that give the
// classifier and the query loop their context.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/triage"
	"github.com/fyrsmithlabs/triaged/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/retrieval"

// MaxK is the hard ceiling on context size. Configuration may lower it,
// never raise it.
const MaxK = 5

// Neighbor is one retrieved past decision.
type Neighbor struct {
	// DecisionID is the live (latest) decision for this email.
	DecisionID string

	// EmailID identifies the decided email.
	EmailID string

	// Verdict is the live decision's verdict.
	Verdict string

	// Text is the scrubbed email text the indexed vector came from.
	Text string

	// Similarity is cosine similarity to the query vector.
	Similarity float64

	// ReceivedAt orders equally-similar neighbors by recency. Zero when
	// the indexed metadata is missing or malformed.
	ReceivedAt time.Time
}

// Config holds retriever settings.
type Config struct {
	// K is the default context size when the caller does not request one.
	K int

	// MinSimilarity drops neighbors below this cosine similarity.
	MinSimilarity float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.K == 0 {
		c.K = MaxK
	}
	if c.MinSimilarity == 0 {
		c.MinSimilarity = 0.7
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.K < 1 || c.K > MaxK {
		return fmt.Errorf("retrieval k must be between 1 and %d, got %d", MaxK, c.K)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("retrieval min_similarity must be between 0.0 and 1.0, got %g", c.MinSimilarity)
	}
	return nil
}

// Retriever queries the preference index and applies the context policy:
// similarity floor, self-exclusion, descending order with recency
// tie-break, size cap. Reads are unsynchronized; the index is append-only.
type Retriever struct {
	index  vectorstore.Store
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a Retriever over the given index.
func New(index vectorstore.Store, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Retriever{
		index:  index,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Retrieve returns up to k neighbors of vector, most similar first and
// ties broken by most recent ReceivedAt. Neighbors below the similarity
// floor are dropped. excludeID removes the email under classification
// from its own context; pass "" to keep everything. An index with zero
// entries returns triage.ErrIndexEmpty, which callers treat as "no
// context", never a hard failure.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, k int, excludeID string) ([]Neighbor, error) {
	ctx, span := r.tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", triage.ErrInvalidInput)
	}
	if k <= 0 || k > r.config.K {
		k = r.config.K
	}

	count, err := r.index.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return nil, fmt.Errorf("count index entries: %w", err)
	}
	if count == 0 {
		span.SetStatus(codes.Ok, "empty index")
		return nil, triage.ErrIndexEmpty
	}

	// One extra result covers the excluded email appearing in the hits.
	n := k
	if excludeID != "" {
		n++
	}

	results, err := r.index.Query(ctx, vector, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("query index: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(results))
	dropped := 0
	for _, res := range results {
		if res.ID == excludeID {
			continue
		}
		if float64(res.Score) < r.config.MinSimilarity {
			dropped++
			continue
		}
		neighbors = append(neighbors, Neighbor{
			DecisionID: res.Metadata[vectorstore.MetaDecisionID],
			EmailID:    res.ID,
			Verdict:    res.Metadata[vectorstore.MetaVerdict],
			Text:       res.Text,
			Similarity: float64(res.Score),
			ReceivedAt: r.parseReceivedAt(res.ID, res.Metadata[vectorstore.MetaReceivedAt]),
		})
	}

	// Backends return results ordered by similarity, but they know nothing
	// about the recency tie-break.
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].ReceivedAt.After(neighbors[j].ReceivedAt)
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}

	span.SetAttributes(
		attribute.Int("retrieval.requested_k", k),
		attribute.Int("retrieval.returned", len(neighbors)),
		attribute.Int("retrieval.below_floor", dropped),
	)
	span.SetStatus(codes.Ok, "success")

	return neighbors, nil
}

func (r *Retriever) parseReceivedAt(id, raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		r.logger.Warn("malformed received_at in index metadata",
			zap.String("email_id", id),
			zap.String("received_at", raw))
		return time.Time{}
	}
	return ts
}
