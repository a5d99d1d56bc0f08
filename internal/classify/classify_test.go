package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("fake llm: no scripted response")
}

func (f *fakeLLM) Close() error { return nil }

func newClassifier(t *testing.T, fake *fakeLLM) *Classifier {
	t.Helper()
	c, err := New(fake, Config{MaxAttempts: 3, RetryBase: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func testEmail() *triage.EmailRecord {
	return &triage.EmailRecord{
		ID:      "msg-1",
		Sender:  "newsletter@example.com",
		Subject: "10 tools you missed this week",
		Body:    "Our weekly roundup of developer tools.\nUnsubscribe at any time.",
	}
}

func testNeighbors() []retrieval.Neighbor {
	return []retrieval.Neighbor{
		{DecisionID: "dec-a", EmailID: "a", Verdict: "discard", Text: "Weekly roundup\nof tools", Similarity: 0.91},
		{DecisionID: "dec-b", EmailID: "b", Verdict: "keep", Text: "Invoice for July", Similarity: 0.74},
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantVerdict    triage.Verdict
		wantConfidence float64
		wantError      bool
	}{
		{
			name:           "plain json",
			raw:            `{"verdict": "discard", "confidence": 0.92, "rationale": "recurring newsletter"}`,
			wantVerdict:    triage.VerdictDiscard,
			wantConfidence: 0.92,
		},
		{
			name:           "fenced json",
			raw:            "```json\n{\"verdict\": \"keep\", \"confidence\": 0.8, \"rationale\": \"personal mail\"}\n```",
			wantVerdict:    triage.VerdictKeep,
			wantConfidence: 0.8,
		},
		{
			name:           "prose wrapped",
			raw:            `Here is my decision: {"verdict": "keep", "confidence": 0.6, "rationale": "looks important"} Let me know!`,
			wantVerdict:    triage.VerdictKeep,
			wantConfidence: 0.6,
		},
		{
			name:           "uppercase verdict",
			raw:            `{"verdict": "KEEP", "confidence": 0.7}`,
			wantVerdict:    triage.VerdictKeep,
			wantConfidence: 0.7,
		},
		{
			name:           "confidence clamped high",
			raw:            `{"verdict": "discard", "confidence": 1.7}`,
			wantVerdict:    triage.VerdictDiscard,
			wantConfidence: 1.0,
		},
		{
			name:           "confidence clamped low",
			raw:            `{"verdict": "discard", "confidence": -0.3}`,
			wantVerdict:    triage.VerdictDiscard,
			wantConfidence: 0.0,
		},
		{
			name:      "unknown verdict",
			raw:       `{"verdict": "maybe", "confidence": 0.5}`,
			wantError: true,
		},
		{
			name:      "not json",
			raw:       "I think you should keep this one.",
			wantError: true,
		},
		{
			name:      "empty",
			raw:       "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecision(tt.raw)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVerdict, got.Verdict)
			assert.InDelta(t, tt.wantConfidence, got.Confidence, 0.0001)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(testEmail(), testNeighbors())

	assert.Contains(t, prompt, "1. [discard, similarity 0.91] Weekly roundup of tools")
	assert.Contains(t, prompt, "2. [keep, similarity 0.74] Invoice for July")
	assert.Contains(t, prompt, "From: newsletter@example.com")
	assert.Contains(t, prompt, "Subject: 10 tools you missed this week")
	assert.Contains(t, prompt, `"verdict"`)
}

func TestBuildPrompt_NoContext(t *testing.T) {
	prompt := buildPrompt(testEmail(), nil)
	assert.Contains(t, prompt, "No past decisions are available")
}

func TestBuildPrompt_SnippetFallback(t *testing.T) {
	email := testEmail()
	email.Body = ""
	email.Snippet = "Our weekly roundup..."

	prompt := buildPrompt(email, nil)
	assert.Contains(t, prompt, "Our weekly roundup...")
}

func TestClassify_Success(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		`{"verdict": "discard", "confidence": 0.9, "rationale": "newsletter"}`,
	}}
	c := newClassifier(t, fake)

	got, err := c.Classify(context.Background(), testEmail(), testNeighbors())
	require.NoError(t, err)
	assert.Equal(t, triage.VerdictDiscard, got.Verdict)
	assert.InDelta(t, 0.9, got.Confidence, 0.0001)
	assert.Equal(t, "newsletter", got.Rationale)
	assert.Equal(t, 1, fake.calls)
}

func TestClassify_RetriesParseFailure(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		"sorry, I cannot help with that",
		`{"verdict": "keep", "confidence": 0.75}`,
	}}
	c := newClassifier(t, fake)

	got, err := c.Classify(context.Background(), testEmail(), nil)
	require.NoError(t, err)
	assert.Equal(t, triage.VerdictKeep, got.Verdict)
	assert.Equal(t, 2, fake.calls)
}

func TestClassify_RetriesProviderError(t *testing.T) {
	fake := &fakeLLM{
		errs:      []error{fmt.Errorf("%w: quota", triage.ErrProviderUnavailable), nil},
		responses: []string{"", `{"verdict": "keep", "confidence": 0.8}`},
	}
	c := newClassifier(t, fake)

	got, err := c.Classify(context.Background(), testEmail(), nil)
	require.NoError(t, err)
	assert.Equal(t, triage.VerdictKeep, got.Verdict)
	assert.Equal(t, 2, fake.calls)
}

func TestClassify_ExhaustsAttempts(t *testing.T) {
	fake := &fakeLLM{responses: []string{"garbage", "garbage", "garbage"}}
	c := newClassifier(t, fake)

	_, err := c.Classify(context.Background(), testEmail(), nil)
	assert.ErrorIs(t, err, triage.ErrClassificationFailed)
	assert.Equal(t, 3, fake.calls)
}

func TestClassify_NonRetryableFailsFast(t *testing.T) {
	fake := &fakeLLM{errs: []error{errors.New("config broken")}}
	c := newClassifier(t, fake)

	_, err := c.Classify(context.Background(), testEmail(), nil)
	assert.ErrorIs(t, err, triage.ErrClassificationFailed)
	assert.Equal(t, 1, fake.calls)
}

func TestClassify_InvalidInputPassesThrough(t *testing.T) {
	fake := &fakeLLM{errs: []error{fmt.Errorf("%w: empty prompt", triage.ErrInvalidInput)}}
	c := newClassifier(t, fake)

	_, err := c.Classify(context.Background(), testEmail(), nil)
	assert.ErrorIs(t, err, triage.ErrInvalidInput)
	assert.NotErrorIs(t, err, triage.ErrClassificationFailed)
	assert.Equal(t, 1, fake.calls)
}

func TestClassify_CapsContextEntries(t *testing.T) {
	neighbors := make([]retrieval.Neighbor, 7)
	for i := range neighbors {
		neighbors[i] = retrieval.Neighbor{
			EmailID:    fmt.Sprintf("e%d", i),
			Verdict:    "keep",
			Text:       fmt.Sprintf("email number %d", i),
			Similarity: 0.9,
		}
	}
	fake := &fakeLLM{responses: []string{`{"verdict": "keep", "confidence": 0.9}`}}
	c := newClassifier(t, fake)

	_, err := c.Classify(context.Background(), testEmail(), neighbors)
	require.NoError(t, err)
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "5. [keep")
	assert.NotContains(t, fake.prompts[0], "6. [keep")
}

func TestClassify_NilEmail(t *testing.T) {
	c := newClassifier(t, &fakeLLM{})

	_, err := c.Classify(context.Background(), nil, nil)
	assert.ErrorIs(t, err, triage.ErrInvalidInput)
}

func TestClassify_CanceledContext(t *testing.T) {
	fake := &fakeLLM{responses: []string{"garbage", "garbage", "garbage"}}
	c := newClassifier(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, testEmail(), nil)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled"))
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBase)
}
