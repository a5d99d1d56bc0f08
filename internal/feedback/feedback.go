// Package feedback owns the email decision lifecycle: recording agent
// decisions, routing low-confidence ones to review, applying user
// confirmations and corrections, and keeping the preference index in step
// with the live decision for every decided email.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/metrics"
	"github.com/fyrsmithlabs/triaged/internal/store"
	"github.com/fyrsmithlabs/triaged/internal/triage"
	"github.com/fyrsmithlabs/triaged/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/feedback"

// Service applies decisions to the store and mirrors the live decision
// into the preference index. Store rows are written before index entries;
// a failed index write surfaces as an error so the caller retries, and
// every path re-upserts the index idempotently on replay.
type Service struct {
	store  *store.Store
	index  vectorstore.Store
	logger *zap.Logger
	tracer trace.Tracer

	mu        sync.RWMutex
	threshold float64
}

// Outcome reports what recording a decision did.
type Outcome struct {
	// Record is the stored decision record.
	Record *triage.DecisionRecord

	// Status is the email's lifecycle status after the write.
	Status triage.Status

	// Existing is true when the email already had a decision and that
	// record was returned instead of a new one.
	Existing bool
}

// New creates the feedback service. threshold routes decisions below it
// to the review queue.
func New(st *store.Store, index vectorstore.Store, threshold float64, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if index == nil {
		return nil, errors.New("vector index is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("confidence threshold must be between 0.0 and 1.0, got %g", threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:     st,
		index:     index,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		threshold: threshold,
	}, nil
}

// Threshold returns the current review threshold.
func (s *Service) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold updates the review threshold. The config watcher calls
// this on reload; out-of-range values are ignored with a warning.
func (s *Service) SetThreshold(v float64) {
	if v < 0 || v > 1 {
		s.logger.Warn("ignoring out-of-range confidence threshold", zap.Float64("threshold", v))
		return
	}
	s.mu.Lock()
	s.threshold = v
	s.mu.Unlock()
	s.logger.Info("confidence threshold updated", zap.Float64("threshold", v))
}

// RecordDecision stores an agent decision for email and indexes its
// vector. Low-confidence decisions park the email in the review queue;
// confident ones finalize it. Re-recording an already-decided email is a
// no-op that returns the stored record and repairs its index entry,
// which makes the operation safe under at-least-once delivery.
func (s *Service) RecordDecision(ctx context.Context, email *triage.EmailRecord, decision triage.Decision, vector []float32, text string, contextIDs []string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.RecordDecision")
	defer span.End()

	if email == nil || email.ID == "" {
		return nil, triage.ErrEmptyEmailID
	}
	span.SetAttributes(attribute.String("email.id", email.ID))

	existing, err := s.store.LatestDecision(ctx, email.ID)
	if err == nil {
		return s.replayDecision(ctx, span, email, existing, vector, text)
	}
	if !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("check existing decision: %w", err)
	}

	rec, err := triage.NewDecisionRecord(email.ID, decision, contextIDs, triage.SourceAgent)
	if err != nil {
		return nil, err
	}
	status := triage.StatusForConfidence(decision.Confidence, s.Threshold())

	if err := s.store.ApplyDecision(ctx, rec, status); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// A concurrent worker decided this email first.
			if latest, lerr := s.store.LatestDecision(ctx, email.ID); lerr == nil {
				return s.replayDecision(ctx, span, email, latest, vector, text)
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply decision failed")
		return nil, fmt.Errorf("apply decision for %s: %w", email.ID, err)
	}

	if err := s.store.SaveEmbedding(ctx, email.ID, vector, text); err != nil {
		span.RecordError(err)
		return &Outcome{Record: rec, Status: status}, err
	}
	if err := s.upsertIndex(ctx, email.ID, email.ReceivedAt, vector, text, rec); err != nil {
		span.RecordError(err)
		return &Outcome{Record: rec, Status: status}, err
	}

	metrics.RecordDecision(string(triage.SourceAgent), string(rec.Verdict))
	s.logger.Info("decision recorded",
		zap.String("email_id", email.ID),
		zap.String("verdict", string(rec.Verdict)),
		zap.Float64("confidence", rec.Confidence),
		zap.String("status", string(status)))
	span.SetAttributes(
		attribute.String("decision.verdict", string(rec.Verdict)),
		attribute.String("email.status", string(status)),
	)
	span.SetStatus(codes.Ok, "success")

	return &Outcome{Record: rec, Status: status}, nil
}

// replayDecision handles RecordDecision on an already-decided email:
// return the stored record and re-upsert its index entry so a crash
// between store and index writes heals on redelivery.
func (s *Service) replayDecision(ctx context.Context, span trace.Span, email *triage.EmailRecord, rec *triage.DecisionRecord, vector []float32, text string) (*Outcome, error) {
	current, err := s.store.GetEmail(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("load decided email %s: %w", email.ID, err)
	}

	if err := s.store.SaveEmbedding(ctx, email.ID, vector, text); err != nil {
		return &Outcome{Record: rec, Status: current.Status, Existing: true}, err
	}
	if err := s.upsertIndex(ctx, email.ID, current.ReceivedAt, vector, text, rec); err != nil {
		return &Outcome{Record: rec, Status: current.Status, Existing: true}, err
	}

	s.logger.Debug("decision already recorded",
		zap.String("email_id", email.ID),
		zap.String("decision_id", rec.ID))
	span.SetAttributes(attribute.Bool("decision.existing", true))
	span.SetStatus(codes.Ok, "existing decision")

	return &Outcome{Record: rec, Status: current.Status, Existing: true}, nil
}

// Confirm finalizes a decision waiting in the review queue as-is. The
// confirmation is recorded as a superseding user record with full
// confidence, and the index entry moves to it.
func (s *Service) Confirm(ctx context.Context, decisionID string) (*triage.DecisionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("decision.id", decisionID))

	orig, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	email, err := s.store.GetEmail(ctx, orig.EmailID)
	if err != nil {
		return nil, err
	}
	if email.Status != triage.StatusPendingReview {
		return nil, fmt.Errorf("email %s is %s, only pending_review decisions can be confirmed: %w",
			email.ID, email.Status, store.ErrInvalidTransition)
	}

	rec, err := s.supersede(ctx, email, orig, orig.Verdict, triage.StatusFinalized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		return nil, err
	}

	s.logger.Info("decision confirmed",
		zap.String("email_id", email.ID),
		zap.String("decision_id", rec.ID),
		zap.String("verdict", string(rec.Verdict)))
	span.SetStatus(codes.Ok, "success")
	return rec, nil
}

// Correct replaces a decision's verdict with the user's. Allowed while
// the decision is pending review and after it finalized; in both cases
// the correction is an appended user record, never a mutation. A
// finalized email's label and confidence stay as they were, the audit
// trail and the index carry the corrected verdict.
func (s *Service) Correct(ctx context.Context, decisionID string, verdict triage.Verdict) (*triage.DecisionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.Correct")
	defer span.End()
	span.SetAttributes(
		attribute.String("decision.id", decisionID),
		attribute.String("decision.verdict", string(verdict)),
	)

	if !verdict.Valid() {
		return nil, triage.ErrInvalidVerdict
	}

	orig, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	email, err := s.store.GetEmail(ctx, orig.EmailID)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestDecision(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("latest decision for %s: %w", email.ID, err)
	}
	if latest.ID != orig.ID {
		// Retried corrections land here: the first attempt's record is
		// already the latest. Repair the index and report it.
		if latest.SupersedesID != nil && *latest.SupersedesID == orig.ID && latest.Verdict == verdict {
			if err := s.reindex(ctx, email, latest); err != nil {
				return latest, err
			}
			return latest, nil
		}
		return nil, fmt.Errorf("decision %s was superseded by %s, correct the latest record: %w",
			orig.ID, latest.ID, store.ErrInvalidTransition)
	}

	var rec *triage.DecisionRecord
	switch email.Status {
	case triage.StatusPendingReview:
		rec, err = s.supersede(ctx, email, orig, verdict, triage.StatusFinalized)
	case triage.StatusFinalized:
		rec, err = s.supersede(ctx, email, orig, verdict, "")
	default:
		return nil, fmt.Errorf("email %s is %s, nothing to correct: %w",
			email.ID, email.Status, store.ErrInvalidTransition)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "correct failed")
		return nil, err
	}

	s.logger.Info("decision corrected",
		zap.String("email_id", email.ID),
		zap.String("superseded", orig.ID),
		zap.String("verdict", string(verdict)))
	span.SetStatus(codes.Ok, "success")
	return rec, nil
}

// supersede appends a user record replacing orig and moves the index
// entry to it. A non-empty status also transitions the email row (the
// pending review path); an empty status leaves the row untouched (the
// finalized path).
func (s *Service) supersede(ctx context.Context, email *triage.EmailRecord, orig *triage.DecisionRecord, verdict triage.Verdict, status triage.Status) (*triage.DecisionRecord, error) {
	rec, err := triage.NewDecisionRecord(email.ID, triage.Decision{
		Verdict:    verdict,
		Confidence: 1.0,
	}, nil, triage.SourceUser)
	if err != nil {
		return nil, err
	}
	rec.SupersedesID = &orig.ID

	if status != "" {
		err = s.store.ApplyDecision(ctx, rec, status)
	} else {
		err = s.store.AppendDecision(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("record user decision for %s: %w", email.ID, err)
	}
	metrics.RecordDecision(string(triage.SourceUser), string(verdict))

	if err := s.reindex(ctx, email, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Pending returns emails waiting for user review, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]*triage.EmailRecord, error) {
	return s.store.ListEmailsByStatus(ctx, triage.StatusPendingReview, limit)
}

// Purge removes every trace of an email: index entry first, then store
// rows. When the index delete fails the rows stay put so the purge can
// be retried.
func (s *Service) Purge(ctx context.Context, emailID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.Purge")
	defer span.End()
	span.SetAttributes(attribute.String("email.id", emailID))

	if err := s.index.Delete(ctx, emailID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index delete failed")
		return false, fmt.Errorf("delete index entry for %s: %w", emailID, err)
	}

	purged, err := s.store.PurgeEmail(ctx, emailID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		return false, err
	}

	span.SetStatus(codes.Ok, "success")
	return purged, nil
}

// reindex re-upserts an email's index entry from the stored embedding,
// pointing its metadata at rec. An email with no stored embedding (it
// never went through the agent pipeline) logs and is left unindexed.
func (s *Service) reindex(ctx context.Context, email *triage.EmailRecord, rec *triage.DecisionRecord) error {
	vector, text, err := s.store.GetEmbedding(ctx, email.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("no stored embedding to reindex",
			zap.String("email_id", email.ID))
		return nil
	}
	if err != nil {
		return err
	}
	return s.upsertIndex(ctx, email.ID, email.ReceivedAt, vector, text, rec)
}

func (s *Service) upsertIndex(ctx context.Context, emailID string, receivedAt time.Time, vector []float32, text string, rec *triage.DecisionRecord) error {
	err := s.index.Upsert(ctx, []vectorstore.Document{{
		ID:     emailID,
		Text:   text,
		Vector: vector,
		Metadata: map[string]string{
			vectorstore.MetaDecisionID: rec.ID,
			vectorstore.MetaVerdict:    string(rec.Verdict),
			vectorstore.MetaReceivedAt: receivedAt.UTC().Format(time.RFC3339),
		},
	}})
	if err != nil {
		return fmt.Errorf("index decision for %s: %w", emailID, err)
	}
	return nil
}
