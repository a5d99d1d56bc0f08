package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// InsertEmail stores a newly ingested email. Returns false when a record
// with the same id already exists; re-ingesting is a no-op so sync cycles
// can safely overlap the same messages.
func (s *Store) InsertEmail(ctx context.Context, email *triage.EmailRecord) (bool, error) {
	if email == nil || email.ID == "" {
		return false, fmt.Errorf("email record with id is required")
	}

	if email.Label == "" {
		email.Label = triage.LabelUnclassified
	}
	if email.Status == "" {
		email.Status = triage.StatusUnclassified
	}
	if email.IngestedAt.IsZero() {
		email.IngestedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO emails
		 (id, thread_id, sender, subject, snippet, body, received_at, label, confidence, status, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ID, email.ThreadID, email.Sender, email.Subject, email.Snippet, email.Body,
		email.ReceivedAt.UTC().Format(timeLayout),
		string(email.Label), email.Confidence, string(email.Status),
		email.IngestedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert email %s: %w", email.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert email %s: %w", email.ID, err)
	}
	return n > 0, nil
}

const emailColumns = `id, thread_id, sender, subject, snippet, body, received_at, label, confidence, status, ingested_at`

// GetEmail retrieves an email by id. Returns ErrNotFound when absent.
func (s *Store) GetEmail(ctx context.Context, id string) (*triage.EmailRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)

	email, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", id, err)
	}
	return email, nil
}

// ListEmailsByStatus returns up to limit emails in the given status,
// oldest received first so retries preserve arrival order.
func (s *Store) ListEmailsByStatus(ctx context.Context, status triage.Status, limit int) ([]*triage.EmailRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE status = ? ORDER BY received_at ASC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list emails by status %s: %w", status, err)
	}
	defer rows.Close()

	var emails []*triage.EmailRecord
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// CountByStatus returns email counts per lifecycle status.
func (s *Store) CountByStatus(ctx context.Context) (map[triage.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM emails GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[triage.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[triage.Status(status)] = n
	}
	return counts, rows.Err()
}

// MarkSkipped moves an unclassified email to the terminal skipped state.
// Used for emails whose content cannot be embedded.
func (s *Store) MarkSkipped(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	return s.transition(ctx, id, func(current triage.Status) (triage.Status, error) {
		if !triage.CanTransition(current, triage.StatusSkipped) {
			return "", fmt.Errorf("%s -> %s: %w", current, triage.StatusSkipped, ErrInvalidTransition)
		}
		return triage.StatusSkipped, nil
	}, nil)
}

// PurgeEmail removes an email and its entire decision history. Returns
// false when the email did not exist. The caller is responsible for
// removing associated vector store entries.
func (s *Store) PurgeEmail(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.purge_email")
	defer span.End()
	span.SetAttributes(attribute.String("email.id", id))

	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE decisions SET supersedes_id = NULL WHERE email_id = ?`, id); err != nil {
		return false, fmt.Errorf("unlink decisions for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM decisions WHERE email_id = ?`, id); err != nil {
		return false, fmt.Errorf("purge decisions for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE email_id = ?`, id); err != nil {
		return false, fmt.Errorf("purge embedding for %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("purge email %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("purge email %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit purge: %w", err)
	}

	s.logger.Info("email purged", zap.String("email.id", id))
	return n > 0, nil
}

// transition runs a status change inside a transaction, optionally
// applying extra statements via apply after the status update succeeds.
// The caller must hold the email's keyed lock.
func (s *Store) transition(ctx context.Context, id string, next func(triage.Status) (triage.Status, error), apply func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM emails WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status for %s: %w", id, err)
	}

	target, err := next(triage.Status(current))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE emails SET status = ? WHERE id = ?`, string(target), id); err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}

	if apply != nil {
		if err := apply(tx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// scanner abstracts *sql.Row and *sql.Rows for scanEmail.
type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(sc scanner) (*triage.EmailRecord, error) {
	var email triage.EmailRecord
	var label, status, receivedStr, ingestedStr string

	err := sc.Scan(&email.ID, &email.ThreadID, &email.Sender, &email.Subject,
		&email.Snippet, &email.Body, &receivedStr, &label, &email.Confidence,
		&status, &ingestedStr)
	if err != nil {
		return nil, err
	}

	email.Label = triage.Label(label)
	email.Status = triage.Status(status)
	email.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedStr)
	email.IngestedAt, _ = time.Parse(time.RFC3339Nano, ingestedStr)
	return &email, nil
}
