// Package store persists emails, the append-only decision trail, and sync
// checkpoints in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/store"

// timeLayout is RFC3339 with a fixed-width fraction. RFC3339Nano drops
// trailing zeros, which breaks lexicographic ORDER BY on the stored text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id           TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	received_at  TEXT NOT NULL,
	label        TEXT NOT NULL DEFAULT 'unclassified',
	confidence   REAL NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'unclassified',
	ingested_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);

CREATE TABLE IF NOT EXISTS decisions (
	id            TEXT PRIMARY KEY,
	email_id      TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	confidence    REAL NOT NULL,
	rationale     TEXT NOT NULL DEFAULT '',
	context_ids   TEXT NOT NULL DEFAULT '[]',
	source        TEXT NOT NULL,
	supersedes_id TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (email_id) REFERENCES emails(id),
	FOREIGN KEY (supersedes_id) REFERENCES decisions(id)
);

CREATE INDEX IF NOT EXISTS idx_decisions_email ON decisions(email_id, created_at);

CREATE TABLE IF NOT EXISTS checkpoints (
	name        TEXT PRIMARY KEY,
	watermark   TEXT NOT NULL,
	cycle       INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	email_id    TEXT PRIMARY KEY,
	vector      BLOB NOT NULL,
	text        TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	FOREIGN KEY (email_id) REFERENCES emails(id)
);
`

// Store wraps the SQLite database behind typed operations. All writes to a
// given email id are serialized through a keyed lock so status transitions
// are checked against a stable current state.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	tracer trace.Tracer
	locks  keyedLocks
}

// New opens (creating if needed) the database at path and runs migrations.
func New(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	// journal_mode is persistent but foreign_keys and busy_timeout are not.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug("document store opened", zap.String("path", path))

	return &Store{
		db:     db,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		locks:  keyedLocks{held: make(map[string]*lockEntry)},
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthy pings the database.
func (s *Store) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// keyedLocks hands out one mutex per email id, dropping entries when the
// last holder releases.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	e, ok := k.held[id]
	if !ok {
		e = &lockEntry{}
		k.held[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.held, id)
		}
		k.mu.Unlock()
	}
}
