package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// ApplyDecision appends a decision record and moves its email to
// newStatus in one transaction. The email's label and confidence are
// updated to match the decision. Fails with ErrInvalidTransition when the
// email's lifecycle does not allow the move (a finalized email is never
// re-decided through this path; use AppendDecision for corrections).
func (s *Store) ApplyDecision(ctx context.Context, rec *triage.DecisionRecord, newStatus triage.Status) error {
	ctx, span := s.tracer.Start(ctx, "store.apply_decision")
	defer span.End()

	if err := rec.Validate(); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("email.id", rec.EmailID),
		attribute.String("decision.verdict", string(rec.Verdict)),
		attribute.String("email.status", string(newStatus)),
	)

	unlock := s.locks.lock(rec.EmailID)
	defer unlock()

	return s.transition(ctx, rec.EmailID, func(current triage.Status) (triage.Status, error) {
		if !triage.CanTransition(current, newStatus) {
			return "", fmt.Errorf("%s -> %s: %w", current, newStatus, ErrInvalidTransition)
		}
		return newStatus, nil
	}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE emails SET label = ?, confidence = ? WHERE id = ?`,
			string(triage.LabelFor(rec.Verdict)), rec.Confidence, rec.EmailID); err != nil {
			return fmt.Errorf("update email outcome: %w", err)
		}
		return insertDecision(ctx, tx, rec)
	})
}

// AppendDecision adds a record to the audit trail without touching the
// email row. Corrections of finalized emails land here.
func (s *Store) AppendDecision(ctx context.Context, rec *triage.DecisionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	unlock := s.locks.lock(rec.EmailID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertDecision(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func insertDecision(ctx context.Context, tx *sql.Tx, rec *triage.DecisionRecord) error {
	contextIDs, err := json.Marshal(rec.ContextIDs)
	if err != nil {
		return fmt.Errorf("marshal context ids: %w", err)
	}

	var supersedes any
	if rec.SupersedesID != nil {
		supersedes = *rec.SupersedesID
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO decisions
		 (id, email_id, verdict, confidence, rationale, context_ids, source, supersedes_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EmailID, string(rec.Verdict), rec.Confidence, rec.Rationale,
		string(contextIDs), string(rec.Source), supersedes,
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("decision %s: %w", rec.ID, ErrDuplicateDecision)
		}
		return fmt.Errorf("insert decision %s: %w", rec.ID, err)
	}
	return nil
}

const decisionColumns = `id, email_id, verdict, confidence, rationale, context_ids, source, supersedes_id, created_at`

// LatestDecision returns the most recent decision for an email, which is
// the current truth for its verdict. Returns ErrNotFound when no decision
// has been recorded.
func (s *Store) LatestDecision(ctx context.Context, emailID string) (*triage.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE email_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, emailID)

	rec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decisions for email %s: %w", emailID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest decision for %s: %w", emailID, err)
	}
	return rec, nil
}

// GetDecision retrieves a single decision record by id.
func (s *Store) GetDecision(ctx context.Context, id string) (*triage.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)

	rec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return rec, nil
}

// DecisionsForEmail returns the full audit trail for an email, oldest
// first.
func (s *Store) DecisionsForEmail(ctx context.Context, emailID string) ([]*triage.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE email_id = ? ORDER BY created_at ASC, rowid ASC`, emailID)
	if err != nil {
		return nil, fmt.Errorf("decisions for %s: %w", emailID, err)
	}
	defer rows.Close()

	var records []*triage.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDecision(sc scanner) (*triage.DecisionRecord, error) {
	var rec triage.DecisionRecord
	var verdict, source, contextJSON, createdStr string
	var supersedes sql.NullString

	err := sc.Scan(&rec.ID, &rec.EmailID, &verdict, &rec.Confidence, &rec.Rationale,
		&contextJSON, &source, &supersedes, &createdStr)
	if err != nil {
		return nil, err
	}

	rec.Verdict = triage.Verdict(verdict)
	rec.Source = triage.DecisionSource(source)
	if supersedes.Valid {
		rec.SupersedesID = &supersedes.String
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.ContextIDs); err != nil {
		return nil, fmt.Errorf("unmarshal context ids: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &rec, nil
}
