package triage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDecisionRecord(t *testing.T) {
	rec, err := NewDecisionRecord("msg-1", Decision{
		Verdict:    VerdictKeep,
		Confidence: 0.9,
		Rationale:  "matches prior newsletter preference",
	}, []string{"ctx-1", "ctx-2"}, SourceAgent)
	require.NoError(t, err)

	assert.Equal(t, "msg-1", rec.EmailID)
	assert.Equal(t, VerdictKeep, rec.Verdict)
	assert.Equal(t, 0.9, rec.Confidence)
	assert.Equal(t, SourceAgent, rec.Source)
	assert.Nil(t, rec.SupersedesID)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = uuid.Parse(rec.ID)
	assert.NoError(t, err, "record ID should be a UUID")

	assert.NoError(t, rec.Validate())
}

func TestNewDecisionRecord_Validation(t *testing.T) {
	tests := []struct {
		name    string
		emailID string
		d       Decision
		source  DecisionSource
		wantErr error
	}{
		{
			name:    "empty email id",
			emailID: "",
			d:       Decision{Verdict: VerdictKeep, Confidence: 0.5},
			source:  SourceAgent,
			wantErr: ErrEmptyEmailID,
		},
		{
			name:    "unknown verdict",
			emailID: "msg-1",
			d:       Decision{Verdict: Verdict("maybe"), Confidence: 0.5},
			source:  SourceAgent,
			wantErr: ErrInvalidVerdict,
		},
		{
			name:    "confidence above range",
			emailID: "msg-1",
			d:       Decision{Verdict: VerdictDiscard, Confidence: 1.2},
			source:  SourceAgent,
			wantErr: ErrInvalidConfidence,
		},
		{
			name:    "confidence below range",
			emailID: "msg-1",
			d:       Decision{Verdict: VerdictDiscard, Confidence: -0.1},
			source:  SourceAgent,
			wantErr: ErrInvalidConfidence,
		},
		{
			name:    "unknown source",
			emailID: "msg-1",
			d:       Decision{Verdict: VerdictKeep, Confidence: 0.5},
			source:  DecisionSource("robot"),
			wantErr: ErrInvalidSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecisionRecord(tt.emailID, tt.d, nil, tt.source)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusUnclassified, StatusPendingReview, true},
		{StatusUnclassified, StatusFinalized, true},
		{StatusUnclassified, StatusSkipped, true},
		{StatusPendingReview, StatusFinalized, true},
		{StatusPendingReview, StatusUnclassified, false},
		{StatusFinalized, StatusPendingReview, false},
		{StatusFinalized, StatusUnclassified, false},
		{StatusSkipped, StatusFinalized, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStatusForConfidence(t *testing.T) {
	assert.Equal(t, StatusPendingReview, StatusForConfidence(0.5, 0.7))
	assert.Equal(t, StatusFinalized, StatusForConfidence(0.7, 0.7), "threshold is inclusive")
	assert.Equal(t, StatusFinalized, StatusForConfidence(0.95, 0.7))
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, LabelSpam, LabelFor(VerdictDiscard))
	assert.Equal(t, LabelKeep, LabelFor(VerdictKeep))
}

func TestEmailRecord_Text(t *testing.T) {
	e := &EmailRecord{Subject: "Invoice overdue", Body: "Please pay now."}
	assert.Equal(t, "Invoice overdue\n\nPlease pay now.", e.Text())

	e = &EmailRecord{Subject: "Invoice overdue", Snippet: "Please pay"}
	assert.Equal(t, "Invoice overdue\n\nPlease pay", e.Text(), "snippet substitutes for missing body")

	e = &EmailRecord{Body: "no subject here"}
	assert.Equal(t, "no subject here", e.Text())

	e = &EmailRecord{Subject: "only subject"}
	assert.Equal(t, "only subject", e.Text())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrProviderUnavailable))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.False(t, IsRetryable(ErrClassificationFailed))
	assert.False(t, IsRetryable(nil))
}
