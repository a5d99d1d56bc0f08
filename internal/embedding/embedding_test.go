package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

func TestValidateText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantError bool
	}{
		{"valid", "meeting notes attached", false},
		{"empty", "", true},
		{"whitespace only", "   \n\t", true},
		{"at limit", strings.Repeat("a", MaxTextBytes), false},
		{"over limit", strings.Repeat("a", MaxTextBytes+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateText(tt.text)
			if tt.wantError {
				assert.ErrorIs(t, err, triage.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTexts(t *testing.T) {
	assert.ErrorIs(t, validateTexts(nil), triage.ErrInvalidInput)
	assert.ErrorIs(t, validateTexts([]string{"ok", ""}), triage.ErrInvalidInput)
	assert.NoError(t, validateTexts([]string{"one", "two"}))
}

func TestNewGemini_RequiresAPIKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

func TestGemini_InputValidationBeforeNetwork(t *testing.T) {
	g, err := NewGemini(context.Background(), GeminiConfig{APIKey: "test-key"})
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, 768, g.Dimension())

	_, err = g.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, triage.ErrInvalidInput)

	_, err = g.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, triage.ErrInvalidInput)
}

func TestNewOpenAI_Defaults(t *testing.T) {
	o, err := NewOpenAI(OpenAIConfig{})
	require.NoError(t, err)
	defer o.Close()

	assert.Equal(t, 384, o.Dimension())
}

func TestOpenAI_InputValidationBeforeNetwork(t *testing.T) {
	o, err := NewOpenAI(OpenAIConfig{
		BaseURL:   "http://localhost:9",
		Model:     "BAAI/bge-small-en-v1.5",
		Dimension: 384,
	})
	require.NoError(t, err)
	defer o.Close()

	_, err = o.EmbedQuery(context.Background(), "  ")
	assert.ErrorIs(t, err, triage.ErrInvalidInput)

	_, err = o.EmbedDocuments(context.Background(), []string{strings.Repeat("x", MaxTextBytes+1)})
	assert.ErrorIs(t, err, triage.ErrInvalidInput)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}

func TestNew_OpenAI(t *testing.T) {
	p, err := New(context.Background(), config.EmbeddingConfig{
		Provider:  "openai",
		BaseURL:   "http://localhost:9",
		Model:     "BAAI/bge-small-en-v1.5",
		Dimension: 384,
	})
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &OpenAI{}, p)
	assert.Equal(t, 384, p.Dimension())
}
