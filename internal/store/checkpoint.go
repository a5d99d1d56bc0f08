package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint records how far a named sync stream has durably progressed.
// The watermark is opaque to the store; the syncer encodes whatever it
// needs to resume (for Gmail, the internal date and id of the last fully
// processed message).
type Checkpoint struct {
	Name      string    `json:"name"`
	Watermark string    `json:"watermark"`
	Cycle     uint64    `json:"cycle"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveCheckpoint upserts the checkpoint row for cp.Name.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.Name == "" {
		return fmt.Errorf("checkpoint name is required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (name, watermark, cycle, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   watermark = excluded.watermark,
		   cycle = excluded.cycle,
		   updated_at = excluded.updated_at`,
		cp.Name, cp.Watermark, cp.Cycle, cp.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.Name, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint by name. Returns ErrNotFound for a
// stream that has never checkpointed.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (Checkpoint, error) {
	var cp Checkpoint
	var updatedStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT name, watermark, cycle, updated_at FROM checkpoints WHERE name = ?`, name,
	).Scan(&cp.Name, &cp.Watermark, &cp.Cycle, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", name, err)
	}

	cp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return cp, nil
}
