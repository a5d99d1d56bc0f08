package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
	"github.com/fyrsmithlabs/triaged/internal/vectorstore"
)

type fakeIndex struct {
	count   int
	results []vectorstore.SearchResult
	queryN  int
}

func (f *fakeIndex) Upsert(ctx context.Context, docs []vectorstore.Document) error { return nil }

func (f *fakeIndex) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	f.queryN = k
	if k > len(f.results) {
		k = len(f.results)
	}
	return f.results[:k], nil
}

func (f *fakeIndex) Delete(ctx context.Context, ids ...string) error { return nil }
func (f *fakeIndex) Count(ctx context.Context) (int, error)          { return f.count, nil }
func (f *fakeIndex) Healthy(ctx context.Context) error               { return nil }
func (f *fakeIndex) Close() error                                    { return nil }

func hit(id string, score float32, verdict, receivedAt string) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		ID:    id,
		Text:  "email text " + id,
		Score: score,
		Metadata: map[string]string{
			vectorstore.MetaDecisionID: "dec-" + id,
			vectorstore.MetaVerdict:    verdict,
			vectorstore.MetaReceivedAt: receivedAt,
		},
	}
}

func newRetriever(t *testing.T, idx *fakeIndex) *retrieval.Retriever {
	t.Helper()
	r, err := retrieval.New(idx, retrieval.Config{}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := retrieval.Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.K)
	assert.Equal(t, 0.7, cfg.MinSimilarity)
}

func TestConfig_Validate(t *testing.T) {
	cfg := retrieval.Config{K: 7, MinSimilarity: 0.5}
	assert.Error(t, cfg.Validate())

	cfg = retrieval.Config{K: 3, MinSimilarity: 1.5}
	assert.Error(t, cfg.Validate())

	cfg = retrieval.Config{K: 3, MinSimilarity: 0.5}
	assert.NoError(t, cfg.Validate())
}

func TestNew_RequiresIndex(t *testing.T) {
	_, err := retrieval.New(nil, retrieval.Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	r := newRetriever(t, &fakeIndex{count: 0})

	_, err := r.Retrieve(context.Background(), []float32{1, 0}, 3, "")
	assert.ErrorIs(t, err, triage.ErrIndexEmpty)
}

func TestRetrieve_EmptyVector(t *testing.T) {
	r := newRetriever(t, &fakeIndex{count: 2})

	_, err := r.Retrieve(context.Background(), nil, 3, "")
	assert.ErrorIs(t, err, triage.ErrInvalidInput)
}

func TestRetrieve_DropsBelowFloor(t *testing.T) {
	idx := &fakeIndex{
		count: 3,
		results: []vectorstore.SearchResult{
			hit("a", 0.95, "keep", "2026-08-20T10:00:00Z"),
			hit("b", 0.80, "discard", "2026-08-19T10:00:00Z"),
			hit("c", 0.40, "keep", "2026-08-18T10:00:00Z"),
		},
	}
	r := newRetriever(t, idx)

	got, err := r.Retrieve(context.Background(), []float32{1, 0}, 3, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EmailID)
	assert.Equal(t, "dec-a", got[0].DecisionID)
	assert.Equal(t, "keep", got[0].Verdict)
	assert.Equal(t, "b", got[1].EmailID)
}

func TestRetrieve_ExcludesSelf(t *testing.T) {
	idx := &fakeIndex{
		count: 3,
		results: []vectorstore.SearchResult{
			hit("self", 1.0, "keep", "2026-08-20T10:00:00Z"),
			hit("a", 0.9, "keep", "2026-08-19T10:00:00Z"),
			hit("b", 0.8, "discard", "2026-08-18T10:00:00Z"),
		},
	}
	r := newRetriever(t, idx)

	got, err := r.Retrieve(context.Background(), []float32{1, 0}, 2, "self")
	require.NoError(t, err)
	// One extra hit is requested to cover the excluded email.
	assert.Equal(t, 3, idx.queryN)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EmailID)
	assert.Equal(t, "b", got[1].EmailID)
}

func TestRetrieve_RecencyTieBreak(t *testing.T) {
	idx := &fakeIndex{
		count: 2,
		results: []vectorstore.SearchResult{
			hit("older", 0.9, "keep", "2026-01-01T00:00:00Z"),
			hit("newer", 0.9, "discard", "2026-08-01T00:00:00Z"),
		},
	}
	r := newRetriever(t, idx)

	got, err := r.Retrieve(context.Background(), []float32{1, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].EmailID)
	assert.Equal(t, "older", got[1].EmailID)
}

func TestRetrieve_ClampsK(t *testing.T) {
	idx := &fakeIndex{
		count: 1,
		results: []vectorstore.SearchResult{
			hit("a", 0.9, "keep", "2026-08-20T10:00:00Z"),
		},
	}
	r := newRetriever(t, idx)

	_, err := r.Retrieve(context.Background(), []float32{1, 0}, 50, "")
	require.NoError(t, err)
	assert.Equal(t, 5, idx.queryN)

	_, err = r.Retrieve(context.Background(), []float32{1, 0}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 5, idx.queryN)
}

func TestRetrieve_MalformedReceivedAt(t *testing.T) {
	idx := &fakeIndex{
		count: 1,
		results: []vectorstore.SearchResult{
			hit("a", 0.9, "keep", "not-a-time"),
		},
	}
	r := newRetriever(t, idx)

	got, err := r.Retrieve(context.Background(), []float32{1, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ReceivedAt.IsZero())
}

func TestRetrieve_TruncatesToK(t *testing.T) {
	idx := &fakeIndex{
		count: 3,
		results: []vectorstore.SearchResult{
			hit("a", 0.99, "keep", "2026-08-20T10:00:00Z"),
			hit("b", 0.95, "keep", "2026-08-19T10:00:00Z"),
			hit("c", 0.90, "discard", "2026-08-18T10:00:00Z"),
		},
	}
	r := newRetriever(t, idx)

	got, err := r.Retrieve(context.Background(), []float32{1, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EmailID)
	assert.Equal(t, "b", got[1].EmailID)
}
