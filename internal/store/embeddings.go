package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// SaveEmbedding upserts the vector and scrubbed text behind an email's
// preference index entry. Corrections re-upsert the index from this copy
// instead of calling the embedding provider again.
func (s *Store) SaveEmbedding(ctx context.Context, emailID string, vector []float32, text string) error {
	if emailID == "" {
		return fmt.Errorf("email id is required")
	}
	if len(vector) == 0 {
		return fmt.Errorf("embedding for %s: vector cannot be empty", emailID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (email_id, vector, text, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(email_id) DO UPDATE SET vector = excluded.vector,
		   text = excluded.text, updated_at = excluded.updated_at`,
		emailID, encodeVector(vector), text, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save embedding for %s: %w", emailID, err)
	}
	return nil
}

// GetEmbedding returns the stored vector and text for an email. Returns
// ErrNotFound when no embedding has been saved.
func (s *Store) GetEmbedding(ctx context.Context, emailID string) ([]float32, string, error) {
	var blob []byte
	var text string

	err := s.db.QueryRowContext(ctx,
		`SELECT vector, text FROM embeddings WHERE email_id = ?`, emailID).Scan(&blob, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("embedding for %s: %w", emailID, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("get embedding for %s: %w", emailID, err)
	}
	return decodeVector(blob), text, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
