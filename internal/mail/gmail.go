package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/mail"

// Gmail caps list pages at 100 ids.
const listPageSize = 100

// Gmail reads the authenticated user's mailbox through the Gmail API.
type Gmail struct {
	svc    *gmail.Service
	query  string
	logger *zap.Logger
	tracer trace.Tracer
}

var _ Provider = (*Gmail)(nil)

// NewGmail builds the provider from the cached OAuth token. Run
// "triaged auth" once to create the cache.
func NewGmail(ctx context.Context, cfg config.MailConfig, logger *zap.Logger) (*Gmail, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := authorizedClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Gmail{
		svc:    svc,
		query:  cfg.Query,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// ListNewMessages lists messages received after the checkpoint, oldest
// first, up to max.
func (g *Gmail) ListNewMessages(ctx context.Context, cp Checkpoint, max int) ([]Inbound, error) {
	ctx, span := g.tracer.Start(ctx, "mail.ListNewMessages")
	defer span.End()

	if max <= 0 {
		max = 10
	}

	q := g.query
	if !cp.After.IsZero() {
		// The after: operator has second granularity, so the boundary
		// second is re-listed. collate filters the already-seen part.
		q = fmt.Sprintf("%s after:%d", q, cp.After.Unix())
	}

	ids, err := g.listIDs(ctx, q, max)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("%w: gmail list: %v", triage.ErrProviderUnavailable, err)
	}

	messages := make([]Inbound, 0, len(ids))
	for _, id := range ids {
		msg, err := g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "get failed")
			return nil, fmt.Errorf("%w: gmail get %s: %v", triage.ErrProviderUnavailable, id, err)
		}
		messages = append(messages, inboundFromMessage(msg))
	}

	fresh := collate(messages, cp, max)

	span.SetAttributes(
		attribute.Int("mail.listed", len(ids)),
		attribute.Int("mail.new", len(fresh)),
	)
	span.SetStatus(codes.Ok, "success")
	return fresh, nil
}

func (g *Gmail) listIDs(ctx context.Context, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""

	for len(ids) < max {
		pageSize := int64(max - len(ids))
		if pageSize > listPageSize {
			pageSize = listPageSize
		}

		req := g.svc.Users.Messages.List("me").Q(query).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		res, err := req.Do()
		if err != nil {
			return nil, err
		}
		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}

		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	return ids, nil
}

// ArchiveOrTrash applies the discard action: archive removes the INBOX
// label, trash moves the message to the trash.
func (g *Gmail) ArchiveOrTrash(ctx context.Context, messageID string, action Action) error {
	ctx, span := g.tracer.Start(ctx, "mail.ArchiveOrTrash")
	defer span.End()
	span.SetAttributes(attribute.String("mail.action", string(action)))

	var err error
	switch action {
	case ActionArchive:
		_, err = g.svc.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"INBOX"},
		}).Context(ctx).Do()
	case ActionTrash:
		_, err = g.svc.Users.Messages.Trash("me", messageID).Context(ctx).Do()
	default:
		return fmt.Errorf("%w: unknown mailbox action %q", triage.ErrInvalidInput, action)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "modify failed")
		return fmt.Errorf("%w: gmail %s %s: %v", triage.ErrProviderUnavailable, action, messageID, err)
	}

	g.logger.Info("mailbox action applied",
		zap.String("message_id", messageID),
		zap.String("action", string(action)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// collate drops messages at or before the checkpoint and orders the rest
// oldest first so the watermark can advance contiguously.
func collate(messages []Inbound, cp Checkpoint, max int) []Inbound {
	fresh := make([]Inbound, 0, len(messages))
	for _, m := range messages {
		if m.ID == cp.LastID {
			continue
		}
		if !cp.After.IsZero() && m.ReceivedAt.Before(cp.After) {
			continue
		}
		fresh = append(fresh, m)
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].ReceivedAt.Equal(fresh[j].ReceivedAt) {
			return fresh[i].ID < fresh[j].ID
		}
		return fresh[i].ReceivedAt.Before(fresh[j].ReceivedAt)
	})

	if len(fresh) > max {
		fresh = fresh[:max]
	}
	return fresh
}

func inboundFromMessage(msg *gmail.Message) Inbound {
	in := Inbound{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}
	if msg.InternalDate > 0 {
		in.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		in.Sender = headerValue(msg.Payload, "From")
		in.Subject = headerValue(msg.Payload, "Subject")
		in.Body = plainTextBody(msg.Payload)
	}
	return in
}

func headerValue(payload *gmail.MessagePart, name string) string {
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// plainTextBody finds the first text/plain part and decodes it. Gmail
// serves part data as unpadded base64url; padded and standard variants
// are tolerated.
func plainTextBody(payload *gmail.MessagePart) string {
	var data string
	walkParts(payload, func(part *gmail.MessagePart) {
		if data == "" && part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			data = part.Body.Data
		}
	})
	if data == "" {
		return ""
	}

	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded)
		}
	}
	return ""
}

func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}
