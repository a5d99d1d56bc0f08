// Package syncer runs the periodic mailbox triage loop: pull new mail,
// scrub, embed, retrieve similar past decisions, classify, record the
// decision, and apply the discard action. Progress is checkpointed over
// the contiguous prefix of durably handled emails so a crash resumes
// with at-least-once delivery.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/feedback"
	"github.com/fyrsmithlabs/triaged/internal/mail"
	"github.com/fyrsmithlabs/triaged/internal/metrics"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/scrub"
	"github.com/fyrsmithlabs/triaged/internal/store"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/syncer"

// checkpointName is the sync stream's row in the checkpoints table.
const checkpointName = "gmail"

// Embedder is the slice of the embedding provider the pipeline uses.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches similar past decisions for an email's vector.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, k int, excludeID string) ([]retrieval.Neighbor, error)
}

// Classifier decides keep or discard for one email.
type Classifier interface {
	Classify(ctx context.Context, email *triage.EmailRecord, neighbors []retrieval.Neighbor) (triage.Decision, error)
}

// Config holds the sync loop settings.
type Config struct {
	// Interval between cycles.
	Interval time.Duration

	// BatchSize is the maximum messages pulled per cycle.
	BatchSize int

	// Workers bounds concurrent per-email processing.
	Workers int

	// ErrorBackoff delays the next cycle after a failed one.
	ErrorBackoff time.Duration

	// MaxBodyBytes truncates email text before embedding.
	MaxBodyBytes int

	// DiscardAction is applied to finalized discards: "archive",
	// "trash", or "none".
	DiscardAction string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 60 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 * 1024
	}
	if c.DiscardAction == "" {
		c.DiscardAction = string(mail.ActionArchive)
	}
}

// Syncer drives the triage pipeline on a fixed interval.
type Syncer struct {
	provider   mail.Provider
	scrubber   *scrub.Scrubber
	embedder   Embedder
	retriever  Retriever
	classifier Classifier
	feedback   *feedback.Service
	store      *store.Store
	config     Config
	logger     *zap.Logger
	tracer     trace.Tracer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates the syncer.
func New(provider mail.Provider, scrubber *scrub.Scrubber, embedder Embedder, retriever Retriever, classifier Classifier, fb *feedback.Service, st *store.Store, cfg Config, logger *zap.Logger) (*Syncer, error) {
	if provider == nil {
		return nil, fmt.Errorf("mail provider is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if fb == nil {
		return nil, fmt.Errorf("feedback service is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	return &Syncer{
		provider:   provider,
		scrubber:   scrubber,
		embedder:   embedder,
		retriever:  retriever,
		classifier: classifier,
		feedback:   fb,
		store:      st,
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins the sync loop in the background. The first cycle runs
// immediately. Returns immediately; syncing happens in a goroutine.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting sync loop",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("workers", s.config.Workers))

	go s.run(ctx)
}

// Stop halts the sync loop and waits for the in-flight cycle to finish.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info("stopping sync loop")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether the loop is active.
func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetInterval changes the delay between cycles. Takes effect when the
// next cycle schedules its successor; non-positive values are ignored.
func (s *Syncer) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.config.Interval = d
	s.mu.Unlock()
}

func (s *Syncer) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Interval
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.doneCh)

	// Zero delay runs the first cycle immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync loop stopped: stop requested")
			return
		case <-timer.C:
		}

		delay := s.interval()
		if err := s.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("sync loop stopped: context canceled")
				return
			}
			s.logger.Error("sync cycle failed", zap.Error(err))
			delay = s.config.ErrorBackoff
		}
		timer.Reset(delay)
	}
}

// SyncOnce runs a single sync cycle.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "syncer.SyncOnce")
	defer span.End()

	start := time.Now()
	err := s.cycle(ctx)
	metrics.RecordCycle(err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *Syncer) cycle(ctx context.Context) error {
	cp, cycle, err := s.loadCheckpoint(ctx)
	if err != nil {
		return err
	}

	queue, err := s.buildQueue(ctx, cp)
	if err != nil {
		return err
	}

	if len(queue) == 0 {
		s.logger.Debug("sync cycle found nothing to do", zap.Uint64("cycle", cycle+1))
		return s.saveCheckpoint(ctx, cp, cycle+1)
	}

	results := s.processQueue(ctx, queue)

	// The watermark advances over the contiguous prefix of durably
	// handled emails, in arrival order, and never moves backwards for
	// retried emails it already passed.
	newCp := cp
	for i, email := range queue {
		if results[i] != nil {
			break
		}
		if !email.ReceivedAt.Before(newCp.After) {
			newCp = newCp.Advance(email.ID, email.ReceivedAt)
		}
	}

	if err := s.saveCheckpoint(ctx, newCp, cycle+1); err != nil {
		return err
	}

	var firstErr error
	for _, res := range results {
		if res != nil {
			firstErr = res
			break
		}
	}
	if firstErr != nil {
		return fmt.Errorf("sync cycle: %w", firstErr)
	}

	s.logger.Info("sync cycle completed",
		zap.Uint64("cycle", cycle+1),
		zap.Int("emails", len(queue)),
		zap.String("watermark", newCp.Watermark()))
	return nil
}

func (s *Syncer) loadCheckpoint(ctx context.Context) (mail.Checkpoint, uint64, error) {
	stored, err := s.store.LoadCheckpoint(ctx, checkpointName)
	if errors.Is(err, store.ErrNotFound) {
		return mail.Checkpoint{}, 0, nil
	}
	if err != nil {
		return mail.Checkpoint{}, 0, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := mail.ParseWatermark(stored.Watermark)
	if err != nil {
		return mail.Checkpoint{}, 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, stored.Cycle, nil
}

func (s *Syncer) saveCheckpoint(ctx context.Context, cp mail.Checkpoint, cycle uint64) error {
	err := s.store.SaveCheckpoint(ctx, store.Checkpoint{
		Name:      checkpointName,
		Watermark: cp.Watermark(),
		Cycle:     cycle,
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// buildQueue assembles this cycle's work in arrival order: emails whose
// classification failed earlier, then newly listed mail. Redelivered
// messages keep their stored state.
func (s *Syncer) buildQueue(ctx context.Context, cp mail.Checkpoint) ([]*triage.EmailRecord, error) {
	queue := make([]*triage.EmailRecord, 0, 2*s.config.BatchSize)
	seen := make(map[string]bool)

	retries, err := s.store.ListEmailsByStatus(ctx, triage.StatusUnclassified, s.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list retry pool: %w", err)
	}
	for _, email := range retries {
		seen[email.ID] = true
		queue = append(queue, email)
	}

	fresh, err := s.provider.ListNewMessages(ctx, cp, s.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list new messages: %w", err)
	}
	for _, in := range fresh {
		if seen[in.ID] {
			continue
		}
		rec := in.Record()
		inserted, err := s.store.InsertEmail(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", in.ID, err)
		}
		if !inserted {
			rec, err = s.store.GetEmail(ctx, in.ID)
			if err != nil {
				return nil, fmt.Errorf("load redelivered %s: %w", in.ID, err)
			}
			metrics.RecordEmail(metrics.OutcomeRedelivered)
		}
		queue = append(queue, rec)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].ReceivedAt.Equal(queue[j].ReceivedAt) {
			return queue[i].ID < queue[j].ID
		}
		return queue[i].ReceivedAt.Before(queue[j].ReceivedAt)
	})
	return queue, nil
}

// processQueue runs the pipeline over the queue with a bounded worker
// pool. results[i] reports whether queue[i] reached a durable state.
func (s *Syncer) processQueue(ctx context.Context, queue []*triage.EmailRecord) []error {
	results := make([]error, len(queue))
	sem := make(chan struct{}, s.config.Workers)
	var wg sync.WaitGroup

	for i, email := range queue {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Undispatched emails stay incomplete; the next cycle
			// redelivers them.
			results[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, email *triage.EmailRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.processEmail(ctx, email)
		}(i, email)
	}

	wg.Wait()
	return results
}

// processEmail runs one email through scrub, embed, retrieve, classify,
// and the feedback write. A nil return means the email reached a durable
// state and the watermark may pass it; an error means it must redeliver.
func (s *Syncer) processEmail(ctx context.Context, email *triage.EmailRecord) error {
	ctx, span := s.tracer.Start(ctx, "syncer.processEmail")
	defer span.End()
	span.SetAttributes(attribute.String("email.id", email.ID))

	if email.Status != triage.StatusUnclassified {
		// Redelivered after its decision committed. Re-apply the discard
		// action in case the crash landed between commit and mailbox call;
		// archive and trash are idempotent on the provider side.
		if email.Status == triage.StatusFinalized && email.Label == triage.LabelSpam {
			return s.applyDiscard(ctx, email.ID)
		}
		return nil
	}

	text := email.Text()
	if truncated := truncateBytes(text, s.config.MaxBodyBytes); len(truncated) < len(text) {
		s.logger.Debug("email text truncated before embedding",
			zap.String("email_id", email.ID),
			zap.Int("bytes", len(text)),
			zap.Int("limit", s.config.MaxBodyBytes))
		text = truncated
	}

	scrubbed := s.scrubber.Scrub(text)
	if !scrubbed.Clean() {
		s.logger.Info("secrets scrubbed from email text",
			zap.String("email_id", email.ID),
			zap.Int("redactions", len(scrubbed.Redactions)))
	}
	text = scrubbed.Text

	vectors, err := s.embedder.EmbedDocuments(ctx, []string{text})
	if errors.Is(err, triage.ErrInvalidInput) {
		// Nothing to embed. Skip the email; the watermark passes it.
		if err := s.store.MarkSkipped(ctx, email.ID); err != nil {
			return fmt.Errorf("mark %s skipped: %w", email.ID, err)
		}
		s.logger.Warn("email skipped: no usable text", zap.String("email_id", email.ID))
		metrics.RecordEmail(metrics.OutcomeSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("embed %s: %w", email.ID, err)
	}
	vector := vectors[0]

	neighbors, err := s.retriever.Retrieve(ctx, vector, 0, email.ID)
	if err != nil && !errors.Is(err, triage.ErrIndexEmpty) {
		return fmt.Errorf("retrieve context for %s: %w", email.ID, err)
	}

	decision, err := s.classifier.Classify(ctx, email, neighbors)
	if err != nil {
		if errors.Is(err, triage.ErrClassificationFailed) && ctx.Err() == nil {
			// Terminal for this cycle: the email stays unclassified for
			// the retry pool, and the watermark passes it.
			s.logger.Warn("classification failed, retrying next cycle",
				zap.String("email_id", email.ID),
				zap.Error(err))
			metrics.RecordEmail(metrics.OutcomeFailed)
			return nil
		}
		return fmt.Errorf("classify %s: %w", email.ID, err)
	}

	contextIDs := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		contextIDs = append(contextIDs, n.DecisionID)
	}

	outcome, err := s.feedback.RecordDecision(ctx, email, decision, vector, text, contextIDs)
	if err != nil {
		return fmt.Errorf("record decision for %s: %w", email.ID, err)
	}
	metrics.RecordEmail(metrics.OutcomeDecided)

	if outcome.Status == triage.StatusFinalized && outcome.Record.Verdict == triage.VerdictDiscard {
		if err := s.applyDiscard(ctx, email.ID); err != nil {
			return err
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// applyDiscard applies the configured mailbox action. "none" records the
// decision without touching the mailbox.
func (s *Syncer) applyDiscard(ctx context.Context, emailID string) error {
	action := mail.Action(s.config.DiscardAction)
	if !action.Valid() {
		return nil
	}

	err := s.provider.ArchiveOrTrash(ctx, emailID, action)
	metrics.RecordMailboxAction(string(action), err)
	if err != nil {
		return fmt.Errorf("apply %s to %s: %w", action, emailID, err)
	}
	return nil
}

// truncateBytes cuts s to at most limit bytes on a rune boundary.
func truncateBytes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
