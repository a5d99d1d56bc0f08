package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeRetriever struct {
	neighbors []retrieval.Neighbor
	err       error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ []float32, _ int, _ string) ([]retrieval.Neighbor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.neighbors, nil
}

type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("unexpected call")
}

func (f *fakeLLM) Close() error { return nil }

func testNeighbors() []retrieval.Neighbor {
	return []retrieval.Neighbor{
		{
			DecisionID: "dec-1",
			EmailID:    "em-1",
			Verdict:    "keep",
			Text:       "Project update\n\nThe launch moved to Friday.",
			Similarity: 0.92,
			ReceivedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			DecisionID: "dec-2",
			EmailID:    "em-2",
			Verdict:    "discard",
			Text:       "Weekly savings\n\nDeals end Sunday.",
			Similarity: 0.81,
			ReceivedAt: time.Date(2026, 7, 20, 9, 0, 0, 0, time.UTC),
		},
	}
}

func newService(t *testing.T, client *fakeLLM, ret *fakeRetriever) *Service {
	t.Helper()
	svc, err := New(&fakeEmbedder{vector: []float32{0.1, 0.2}}, ret, client, Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 0.7, cfg.QualityThreshold)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestFirstFloat(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    float64
		wantErr bool
	}{
		{name: "bare number", reply: "0.8", want: 0.8},
		{name: "labeled", reply: "Rating: 0.75", want: 0.75},
		{name: "prose", reply: "I would rate this answer 0.9 out of 1.0.", want: 0.9},
		{name: "leading dot", reply: ".5", want: 0.5},
		{name: "integer one", reply: "1", want: 1},
		{name: "clamped high", reply: "8/10", want: 1},
		{name: "clamped negative", reply: "-0.5", want: 0},
		{name: "no number", reply: "looks good to me", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstFloat(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestBuildContext(t *testing.T) {
	block := buildContext(testNeighbors())
	assert.Contains(t, block, "[decided: keep, similarity 0.92]")
	assert.Contains(t, block, "[decided: discard, similarity 0.81]")
	assert.Contains(t, block, "The launch moved to Friday.")
	assert.Contains(t, block, "\n---\n")
}

func TestBuildContextEmpty(t *testing.T) {
	block := buildContext(nil)
	assert.Contains(t, block, "No stored email decisions")
}

func TestQuery_FirstAttemptAccepted(t *testing.T) {
	client := &fakeLLM{responses: []string{"You keep project updates.", "0.9"}}
	svc := newService(t, client, &fakeRetriever{neighbors: testNeighbors()})

	ans, err := svc.Query(context.Background(), "What kind of mail do I keep?")
	require.NoError(t, err)

	assert.Equal(t, "You keep project updates.", ans.Answer)
	assert.InDelta(t, 0.9, ans.Quality, 1e-9)
	assert.Equal(t, 1, ans.Attempts)
	assert.Equal(t, 2, client.calls)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "dec-1", ans.Sources[0].DecisionID)
	assert.Equal(t, "em-1", ans.Sources[0].EmailID)
	assert.Equal(t, "keep", ans.Sources[0].Verdict)
}

func TestQuery_PromptShape(t *testing.T) {
	client := &fakeLLM{responses: []string{"answer", "0.9"}}
	svc := newService(t, client, &fakeRetriever{neighbors: testNeighbors()})

	_, err := svc.Query(context.Background(), "Do I read newsletters?")
	require.NoError(t, err)

	require.Len(t, client.prompts, 2)
	prompt := client.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "Context information:\n"), "prompt starts with context header")
	assert.Contains(t, prompt, "\n\nBased on the above context, please answer the question: Do I read newsletters?")
	assert.Contains(t, client.prompts[1], "Rating:")
}

func TestQuery_RegeneratesBelowThreshold(t *testing.T) {
	client := &fakeLLM{responses: []string{"vague answer", "0.4", "better answer", "0.85"}}
	svc := newService(t, client, &fakeRetriever{neighbors: testNeighbors()})

	ans, err := svc.Query(context.Background(), "question")
	require.NoError(t, err)

	assert.Equal(t, "better answer", ans.Answer)
	assert.InDelta(t, 0.85, ans.Quality, 1e-9)
	assert.Equal(t, 2, ans.Attempts)
	assert.Equal(t, 4, client.calls)
}

func TestQuery_ExhaustsAttemptsKeepsBest(t *testing.T) {
	client := &fakeLLM{responses: []string{"first", "0.5", "second", "0.3", "third", "0.2"}}
	svc := newService(t, client, &fakeRetriever{neighbors: testNeighbors()})

	ans, err := svc.Query(context.Background(), "question")
	require.NoError(t, err)

	assert.Equal(t, "first", ans.Answer)
	assert.InDelta(t, 0.5, ans.Quality, 1e-9)
	assert.Equal(t, 3, ans.Attempts)
	assert.Equal(t, 6, client.calls)
}

func TestQuery_UnparseableRatingRegenerates(t *testing.T) {
	client := &fakeLLM{responses: []string{"first", "sounds good to me", "second", "0.8"}}
	svc := newService(t, client, &fakeRetriever{neighbors: testNeighbors()})

	ans, err := svc.Query(context.Background(), "question")
	require.NoError(t, err)

	assert.Equal(t, "second", ans.Answer)
	assert.InDelta(t, 0.8, ans.Quality, 1e-9)
	assert.Equal(t, 2, ans.Attempts)
}

func TestQuery_EmptyIndexStillAnswers(t *testing.T) {
	client := &fakeLLM{responses: []string{"Nothing is stored yet.", "0.9"}}
	ret := &fakeRetriever{err: fmt.Errorf("%w: no decisions yet", triage.ErrIndexEmpty)}
	svc := newService(t, client, ret)

	ans, err := svc.Query(context.Background(), "What do I keep?")
	require.NoError(t, err)

	assert.Equal(t, "Nothing is stored yet.", ans.Answer)
	assert.Empty(t, ans.Sources)
	assert.Contains(t, client.prompts[0], "No stored email decisions")
}

func TestQuery_RetrieveErrorFails(t *testing.T) {
	client := &fakeLLM{}
	ret := &fakeRetriever{err: errors.New("index offline")}
	svc := newService(t, client, ret)

	_, err := svc.Query(context.Background(), "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve context")
	assert.Zero(t, client.calls)
}

func TestQuery_EmbedErrorFails(t *testing.T) {
	client := &fakeLLM{}
	svc, err := New(
		&fakeEmbedder{err: fmt.Errorf("%w: embedding down", triage.ErrProviderUnavailable)},
		&fakeRetriever{}, client, Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = svc.Query(context.Background(), "question")
	require.ErrorIs(t, err, triage.ErrProviderUnavailable)
	assert.Zero(t, client.calls)
}

func TestQuery_ProviderErrorFailsFast(t *testing.T) {
	client := &fakeLLM{errs: []error{fmt.Errorf("%w: model down", triage.ErrProviderUnavailable)}}
	svc := newService(t, client, &fakeRetriever{neighbors: testNeighbors()})

	_, err := svc.Query(context.Background(), "question")
	require.ErrorIs(t, err, triage.ErrProviderUnavailable)
	assert.Equal(t, 1, client.calls)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	client := &fakeLLM{}
	svc := newService(t, client, &fakeRetriever{})

	_, err := svc.Query(context.Background(), "   ")
	require.ErrorIs(t, err, triage.ErrInvalidInput)
	assert.Zero(t, client.calls)
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	embedder := &fakeEmbedder{}
	ret := &fakeRetriever{}
	client := &fakeLLM{}

	_, err := New(nil, ret, client, Config{}, logger)
	require.Error(t, err)

	_, err = New(embedder, nil, client, Config{}, logger)
	require.Error(t, err)

	_, err = New(embedder, ret, nil, Config{}, logger)
	require.Error(t, err)
}
