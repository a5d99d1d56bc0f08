// Package vectorstore provides the preference index: one vector per decided
// email, queried for the nearest past decisions during classification and
// question answering.
//
// Two backends implement the same contract. chromem runs embedded and
// persists to disk with no external service; qdrant connects to a Qdrant
// server over gRPC. Vectors are computed by the embedding provider before
// they reach this package; the index never embeds text itself.
package vectorstore

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/vectorstore"

var tracer = otel.Tracer(instrumentationName)

// Store is the preference index contract.
//
// Document ids are email ids, so upserting after a correction replaces the
// entry in place and the index keeps exactly one live decision per email.
// Query applies no similarity floor; score filtering and tie-breaking belong
// to the retrieval layer.
type Store interface {
	// Upsert inserts or replaces documents by id.
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to k nearest documents by cosine similarity, most
	// similar first. An empty index yields an empty result, not an error.
	Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Delete removes documents by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Count reports the number of indexed documents.
	Count(ctx context.Context) (int, error)

	// Healthy verifies the backend is usable.
	Healthy(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidCollectionName indicates a collection name outside the
	// allowed pattern.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the configured vector size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyDocuments indicates an upsert with no documents.
	ErrEmptyDocuments = errors.New("documents cannot be empty")
)
