// Package mail abstracts the mailbox the daemon triages. The core
// pipeline depends only on the Provider contract; the Gmail
// implementation lives behind it.
package mail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/triaged/internal/triage"
)

// Action is a mailbox mutation applied to a discarded email.
type Action string

const (
	// ActionArchive removes the message from the inbox but keeps it.
	ActionArchive Action = "archive"

	// ActionTrash moves the message to the trash.
	ActionTrash Action = "trash"
)

// Valid reports whether the action is one the provider can apply.
func (a Action) Valid() bool {
	return a == ActionArchive || a == ActionTrash
}

// Checkpoint marks the newest fully processed message. Listing resumes
// strictly after it.
type Checkpoint struct {
	// After is the internal date of the last processed message.
	After time.Time

	// LastID identifies that message among others sharing the same
	// internal date.
	LastID string
}

// Watermark encodes the checkpoint for durable storage. The zero
// checkpoint encodes as the empty string.
func (c Checkpoint) Watermark() string {
	if c.After.IsZero() {
		return ""
	}
	return strconv.FormatInt(c.After.UnixMilli(), 10) + ":" + c.LastID
}

// ParseWatermark decodes a stored watermark. An empty string is the zero
// checkpoint, which lists from the beginning of the mailbox.
func ParseWatermark(s string) (Checkpoint, error) {
	if s == "" {
		return Checkpoint{}, nil
	}
	ms, id, ok := strings.Cut(s, ":")
	if !ok {
		return Checkpoint{}, fmt.Errorf("malformed watermark %q", s)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("malformed watermark %q: %v", s, err)
	}
	return Checkpoint{After: time.UnixMilli(n).UTC(), LastID: id}, nil
}

// Advance returns the checkpoint moved to the given message.
func (c Checkpoint) Advance(id string, receivedAt time.Time) Checkpoint {
	return Checkpoint{After: receivedAt, LastID: id}
}

// Inbound is a message pulled from the mailbox, decoded and ready for
// ingestion.
type Inbound struct {
	ID         string
	ThreadID   string
	Sender     string
	Subject    string
	Snippet    string
	Body       string
	ReceivedAt time.Time
}

// Record converts the message into the domain record it is ingested as.
func (in Inbound) Record() *triage.EmailRecord {
	return &triage.EmailRecord{
		ID:         in.ID,
		ThreadID:   in.ThreadID,
		Sender:     in.Sender,
		Subject:    in.Subject,
		Snippet:    in.Snippet,
		Body:       in.Body,
		ReceivedAt: in.ReceivedAt,
	}
}

// Provider is the mailbox the sync loop reads from and acts on.
type Provider interface {
	// ListNewMessages returns up to max messages received after the
	// checkpoint, ascending by internal date. The boundary message may
	// reappear under provider clock granularity; ingestion dedups by id.
	ListNewMessages(ctx context.Context, cp Checkpoint, max int) ([]Inbound, error)

	// ArchiveOrTrash applies the configured discard action to a message.
	ArchiveOrTrash(ctx context.Context, messageID string, action Action) error
}
