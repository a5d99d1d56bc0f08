package triage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Validation errors for triage records.
var (
	ErrEmptyEmailID      = errors.New("email ID cannot be empty")
	ErrInvalidVerdict    = errors.New("verdict must be 'keep' or 'discard'")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidSource     = errors.New("source must be 'agent' or 'user'")
)

// Verdict is the keep/discard decision produced for an email.
type Verdict string

const (
	// VerdictKeep indicates the email should stay in the inbox.
	VerdictKeep Verdict = "keep"

	// VerdictDiscard indicates the email should be archived or trashed.
	VerdictDiscard Verdict = "discard"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictKeep || v == VerdictDiscard
}

// Label is the raw classification label stored on an EmailRecord.
type Label string

const (
	// LabelUnclassified is the initial label before any decision.
	LabelUnclassified Label = "unclassified"

	// LabelSpam marks an email the agent (or user) decided to discard.
	LabelSpam Label = "spam"

	// LabelKeep marks an email decided as legitimate.
	LabelKeep Label = "keep"
)

// LabelFor maps a verdict to the email label it finalizes.
func LabelFor(v Verdict) Label {
	if v == VerdictDiscard {
		return LabelSpam
	}
	return LabelKeep
}

// Status is the lifecycle state of an email in the triage pipeline.
type Status string

const (
	// StatusUnclassified means no decision has been recorded yet.
	StatusUnclassified Status = "unclassified"

	// StatusPendingReview means a decision exists but its confidence fell
	// below the configured threshold, so it waits for user confirmation.
	StatusPendingReview Status = "pending_review"

	// StatusFinalized means the decision is committed. The email's label
	// and confidence never change again; corrections append superseding
	// decision records instead.
	StatusFinalized Status = "finalized"

	// StatusSkipped is terminal for emails whose content could not be
	// embedded (empty or oversized body). They are never retried.
	StatusSkipped Status = "skipped"
)

// CanTransition reports whether the status state machine allows from → to.
// Finalized and skipped are terminal for the email record itself.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUnclassified:
		return to == StatusPendingReview || to == StatusFinalized || to == StatusSkipped
	case StatusPendingReview:
		return to == StatusFinalized
	default:
		return false
	}
}

// StatusForConfidence picks the post-decision status: decisions below the
// threshold park in the review queue, confident ones finalize directly.
func StatusForConfidence(confidence, threshold float64) Status {
	if confidence < threshold {
		return StatusPendingReview
	}
	return StatusFinalized
}

// DecisionSource identifies who produced a decision record.
type DecisionSource string

const (
	// SourceAgent marks a decision produced by the classifier.
	SourceAgent DecisionSource = "agent"

	// SourceUser marks a correction or confirmation made by the user.
	SourceUser DecisionSource = "user"
)

// EmailRecord is the stored representation of an ingested email.
//
// Created on ingestion; Label and Confidence are written when a decision
// lands and freeze once the record finalizes. Later corrections append
// superseding decision records instead of touching the row. Never deleted
// except by explicit purge.
type EmailRecord struct {
	// ID is the mail provider's message id.
	ID string `json:"id"`

	// ThreadID groups messages belonging to the same conversation.
	ThreadID string `json:"thread_id,omitempty"`

	// Sender is the From header value.
	Sender string `json:"sender"`

	// Subject is the Subject header value.
	Subject string `json:"subject"`

	// Snippet is the provider's short preview of the body.
	Snippet string `json:"snippet,omitempty"`

	// Body is the decoded plain-text body used for embedding.
	Body string `json:"body"`

	// ReceivedAt is the provider's internal receive timestamp.
	ReceivedAt time.Time `json:"received_at"`

	// Label is the raw classification label (unclassified/spam/keep).
	Label Label `json:"label"`

	// Confidence is the latest recorded decision confidence, 0 while
	// unclassified.
	Confidence float64 `json:"confidence"`

	// Status tracks the email through the triage state machine.
	Status Status `json:"status"`

	// IngestedAt is when the record entered the store.
	IngestedAt time.Time `json:"ingested_at"`
}

// Text returns the content used for embedding and prompts: subject plus
// body, falling back to the snippet when the body is unavailable.
func (e *EmailRecord) Text() string {
	body := e.Body
	if body == "" {
		body = e.Snippet
	}
	if e.Subject == "" {
		return body
	}
	if body == "" {
		return e.Subject
	}
	return e.Subject + "\n\n" + body
}

// Decision is the classifier's output for a single email.
type Decision struct {
	// Verdict is keep or discard.
	Verdict Verdict `json:"verdict"`

	// Confidence is the model's self-reported certainty, clamped to [0,1].
	Confidence float64 `json:"confidence"`

	// Rationale is the model's short justification, kept for the audit trail.
	Rationale string `json:"rationale,omitempty"`
}

// DecisionRecord is one entry in the append-only decision audit trail.
//
// Records are never mutated. A user correction appends a new record with
// SupersedesID pointing at the record it replaces, preserving history.
type DecisionRecord struct {
	// ID is the unique record identifier (UUID).
	ID string `json:"id"`

	// EmailID references the EmailRecord this decision is about.
	EmailID string `json:"email_id"`

	// Verdict is the keep/discard outcome.
	Verdict Verdict `json:"verdict"`

	// Confidence is the decision confidence in [0,1]. User records carry 1.0.
	Confidence float64 `json:"confidence"`

	// Rationale explains the verdict (model output or empty for user records).
	Rationale string `json:"rationale,omitempty"`

	// ContextIDs lists the decision ids retrieved as supporting context.
	ContextIDs []string `json:"context_ids,omitempty"`

	// Source identifies who produced the record (agent or user).
	Source DecisionSource `json:"source"`

	// SupersedesID links a correction to the record it replaces.
	SupersedesID *string `json:"supersedes_id,omitempty"`

	// CreatedAt is the record creation time.
	CreatedAt time.Time `json:"created_at"`
}

// NewDecisionRecord creates a validated decision record with a fresh UUID.
func NewDecisionRecord(emailID string, d Decision, contextIDs []string, source DecisionSource) (*DecisionRecord, error) {
	if emailID == "" {
		return nil, ErrEmptyEmailID
	}
	if !d.Verdict.Valid() {
		return nil, ErrInvalidVerdict
	}
	if d.Confidence < 0.0 || d.Confidence > 1.0 {
		return nil, ErrInvalidConfidence
	}
	if source != SourceAgent && source != SourceUser {
		return nil, ErrInvalidSource
	}

	return &DecisionRecord{
		ID:         uuid.New().String(),
		EmailID:    emailID,
		Verdict:    d.Verdict,
		Confidence: d.Confidence,
		Rationale:  d.Rationale,
		ContextIDs: contextIDs,
		Source:     source,
		CreatedAt:  time.Now(),
	}, nil
}

// Validate checks the record's fields.
func (r *DecisionRecord) Validate() error {
	if r.ID == "" {
		return errors.New("decision ID cannot be empty")
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return errors.New("invalid decision ID format")
	}
	if r.EmailID == "" {
		return ErrEmptyEmailID
	}
	if !r.Verdict.Valid() {
		return ErrInvalidVerdict
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	if r.Source != SourceAgent && r.Source != SourceUser {
		return ErrInvalidSource
	}
	return nil
}
