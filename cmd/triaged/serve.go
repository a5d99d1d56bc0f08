package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/classify"
	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/embedding"
	"github.com/fyrsmithlabs/triaged/internal/feedback"
	"github.com/fyrsmithlabs/triaged/internal/llm"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/mail"
	"github.com/fyrsmithlabs/triaged/internal/rag"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/scrub"
	"github.com/fyrsmithlabs/triaged/internal/server"
	"github.com/fyrsmithlabs/triaged/internal/store"
	"github.com/fyrsmithlabs/triaged/internal/syncer"
	"github.com/fyrsmithlabs/triaged/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the triage daemon",
	Long: `Run the sync loop and the HTTP API until interrupted.

The daemon pulls new mail every sync interval, classifies it against
past decisions, and serves the query and review endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runServe(ctx)
	},
}

// runServe wires the full pipeline and blocks until ctx is canceled.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zlog := logger.Underlying()

	zlog.Info("starting triaged",
		zap.String("version", version),
		zap.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Duration("sync_interval", cfg.Sync.Interval.Duration()))

	p, err := buildPipeline(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer p.Close()

	srv, err := server.NewServer(p.rag, p.feedback, p.store, p.index, zlog, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initialize http server: %w", err)
	}

	watcher := startConfigWatcher(ctx, p, zlog)
	if watcher != nil {
		defer watcher.Stop()
	}

	p.syncer.Start(ctx)
	defer p.syncer.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		zlog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("http shutdown did not finish cleanly", zap.Error(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// newLogger builds the redacting structured logger from app config.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg, err := logging.FromApp(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.New(lcfg)
}

// pipeline holds every service behind the daemon, in dependency order.
type pipeline struct {
	store      *store.Store
	index      vectorstore.Store
	embedder   embedding.Provider
	llm        llm.Client
	scrubber   *scrub.Scrubber
	retriever  *retrieval.Retriever
	classifier *classify.Classifier
	feedback   *feedback.Service
	rag        *rag.Service
	provider   mail.Provider
	syncer     *syncer.Syncer

	logger *zap.Logger
}

// Close releases pipeline resources in reverse construction order.
// Best-effort: a failed close must not block the others.
func (p *pipeline) Close() {
	if p.llm != nil {
		_ = p.llm.Close()
	}
	if p.embedder != nil {
		_ = p.embedder.Close()
	}
	if p.index != nil {
		_ = p.index.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// buildPipeline constructs and wires every service from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (*pipeline, error) {
	p := &pipeline{logger: zlog}
	ok := false
	defer func() {
		if !ok {
			p.Close()
		}
	}()

	st, err := store.New(cfg.Store.Path, zlog)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	p.store = st

	index, err := vectorstore.New(cfg.VectorStore, zlog)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	p.index = index

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("initialize embedding provider: %w", err)
	}
	p.embedder = embedder

	llmClient, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initialize llm client: %w", err)
	}
	p.llm = llmClient

	scrubber, err := scrub.New(cfg.Scrub)
	if err != nil {
		return nil, fmt.Errorf("initialize scrubber: %w", err)
	}
	p.scrubber = scrubber

	retriever, err := retrieval.New(index, retrieval.Config{
		K:             cfg.Retrieval.K,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
	}, zlog)
	if err != nil {
		return nil, fmt.Errorf("initialize retriever: %w", err)
	}
	p.retriever = retriever

	classifier, err := classify.New(llmClient, classify.Config{}, zlog)
	if err != nil {
		return nil, fmt.Errorf("initialize classifier: %w", err)
	}
	p.classifier = classifier

	fb, err := feedback.New(st, index, cfg.Triage.ConfidenceThreshold, zlog)
	if err != nil {
		return nil, fmt.Errorf("initialize feedback service: %w", err)
	}
	p.feedback = fb

	ragSvc, err := rag.New(embedder, retriever, llmClient, rag.Config{
		QualityThreshold: cfg.Query.QualityThreshold,
		MaxAttempts:      cfg.Query.MaxAttempts,
	}, zlog)
	if err != nil {
		return nil, fmt.Errorf("initialize query service: %w", err)
	}
	p.rag = ragSvc

	provider, err := mail.NewGmail(ctx, cfg.Mail, zlog)
	if err != nil {
		return nil, fmt.Errorf("initialize gmail provider: %w", err)
	}
	p.provider = provider

	sync, err := syncer.New(provider, scrubber, embedder, retriever, classifier, fb, st, syncerConfig(cfg), zlog)
	if err != nil {
		return nil, fmt.Errorf("initialize syncer: %w", err)
	}
	p.syncer = sync

	ok = true
	return p, nil
}

// syncerConfig maps app configuration onto the sync loop settings.
func syncerConfig(cfg *config.Config) syncer.Config {
	return syncer.Config{
		Interval:      cfg.Sync.Interval.Duration(),
		BatchSize:     cfg.Sync.BatchSize,
		Workers:       cfg.Sync.Workers,
		ErrorBackoff:  cfg.Sync.ErrorBackoff.Duration(),
		MaxBodyBytes:  cfg.Sync.MaxBodyKB * 1024,
		DiscardAction: cfg.Triage.DiscardAction,
	}
}

// startConfigWatcher hot-reloads the confidence threshold and the sync
// interval when the config file changes. Watching is best-effort:
// without a config file (pure env configuration) or with a failed
// watcher the daemon runs on the boot-time settings.
func startConfigWatcher(ctx context.Context, p *pipeline, zlog *zap.Logger) *config.Watcher {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".config", "triaged", "config.yaml")
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path,
		func(next *config.Config) {
			p.feedback.SetThreshold(next.Triage.ConfidenceThreshold)
			p.syncer.SetInterval(next.Sync.Interval.Duration())
			zlog.Info("configuration reloaded",
				zap.Float64("confidence_threshold", next.Triage.ConfidenceThreshold),
				zap.Duration("sync_interval", next.Sync.Interval.Duration()))
		},
		func(err error) {
			zlog.Warn("config reload failed", zap.Error(err))
		})
	if err != nil {
		zlog.Warn("config watcher unavailable", zap.Error(err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		zlog.Warn("config watcher failed to start", zap.Error(err))
		return nil
	}
	return watcher
}
