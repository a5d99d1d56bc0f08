// Package config provides configuration loading for triaged.
//
// Configuration is loaded from a YAML file with environment variable
// overrides (TRIAGED_ prefix) and validated defaults for every section.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete triaged configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Store       StoreConfig       `koanf:"store"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	LLM         LLMConfig         `koanf:"llm"`
	Mail        MailConfig        `koanf:"mail"`
	Sync        SyncConfig        `koanf:"sync"`
	Triage      TriageConfig      `koanf:"triage"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Query       QueryConfig       `koanf:"query"`
	Scrub       ScrubConfig       `koanf:"scrub"`
}

// ServerConfig holds HTTP server configuration. The default host binds
// loopback only; a daemon holding personal mail should not listen on
// all interfaces unless asked to.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger construction settings. Redaction always
// covers secret-bearing fields; email content fields (body, snippet) are
// redacted too unless LogBodies opts in to logging them.
type LoggingConfig struct {
	Level        string   `koanf:"level"`
	Format       string   `koanf:"format"`
	LogBodies    bool     `koanf:"log_bodies"`
	RedactFields []string `koanf:"redact_fields"`
}

// StoreConfig holds the SQLite document store configuration.
type StoreConfig struct {
	// Path is the SQLite database file. "~" expands to the home directory.
	Path string `koanf:"path"`
}

// VectorStoreConfig selects and configures the preference index backend.
type VectorStoreConfig struct {
	// Provider selects the backend: "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	// Collection is the index collection name (pattern: ^[a-z0-9_]{1,64}$).
	Collection string `koanf:"collection"`

	// VectorSize must match the embedding provider's Dimension().
	VectorSize int `koanf:"vector_size"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds the embedded chromem backend settings.
type ChromemConfig struct {
	// Path is the persistence directory. "~" expands to the home directory.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted documents.
	Compress bool `koanf:"compress"`
}

// QdrantConfig holds the Qdrant gRPC backend settings.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	APIKey       Secret   `koanf:"api_key"`
	UseTLS       bool     `koanf:"use_tls"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the backend: "gemini" (default), "openai", "fastembed".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// Dimension is the expected vector dimensionality.
	Dimension int `koanf:"dimension"`

	// APIKey authenticates gemini and openai providers.
	APIKey Secret `koanf:"api_key"`

	// BaseURL points the openai provider at an OpenAI-compatible endpoint
	// (OpenAI itself or a local TEI server).
	BaseURL string `koanf:"base_url"`

	// CacheDir is the fastembed model cache directory.
	CacheDir string `koanf:"cache_dir"`
}

// LLMConfig selects and configures the language model used for
// classification and query answering.
type LLMConfig struct {
	// Provider selects the backend: "gemini" (default) or "openai".
	Provider string `koanf:"provider"`

	// Model is the generation model name.
	Model string `koanf:"model"`

	// APIKey authenticates the provider.
	APIKey Secret `koanf:"api_key"`

	// BaseURL points the openai provider at an OpenAI-compatible endpoint.
	BaseURL string `koanf:"base_url"`

	// RateRPS bounds requests per second to the provider.
	RateRPS float64 `koanf:"rate_rps"`

	// RateBurst is the limiter's burst allowance.
	RateBurst int `koanf:"rate_burst"`

	// MaxRetries is the attempt count for transient failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryBase is the first backoff delay; doubles per attempt.
	RetryBase Duration `koanf:"retry_base"`

	// Timeout bounds a single completion call.
	Timeout Duration `koanf:"timeout"`
}

// MailConfig holds the Gmail collaborator settings.
type MailConfig struct {
	// ClientID and ClientSecret identify the OAuth application.
	ClientID     string `koanf:"client_id"`
	ClientSecret Secret `koanf:"client_secret"`

	// TokenPath is the cached OAuth token file. "~" expands to home.
	TokenPath string `koanf:"token_path"`

	// Query restricts which messages are listed (Gmail search syntax).
	Query string `koanf:"query"`
}

// SyncConfig holds the sync orchestrator settings.
type SyncConfig struct {
	// Interval between sync cycles.
	Interval Duration `koanf:"interval"`

	// BatchSize is the maximum messages pulled per cycle.
	BatchSize int `koanf:"batch_size"`

	// Workers bounds concurrent per-email processing. Size to the LLM
	// provider's rate limit; the classify limiter is the hard bound.
	Workers int `koanf:"workers"`

	// ErrorBackoff delays the next cycle after a failed one.
	ErrorBackoff Duration `koanf:"error_backoff"`

	// MaxBodyKB truncates email bodies before embedding.
	MaxBodyKB int `koanf:"max_body_kb"`
}

// TriageConfig holds decision policy settings.
type TriageConfig struct {
	// ConfidenceThreshold routes decisions below it to the review queue.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// DiscardAction is applied to finalized discards: "archive", "trash",
	// or "none" (record only).
	DiscardAction string `koanf:"discard_action"`
}

// RetrievalConfig holds retriever settings.
type RetrievalConfig struct {
	// K is the context size cap. Hard ceiling 5 regardless of config.
	K int `koanf:"k"`

	// MinSimilarity drops neighbors below this cosine similarity.
	MinSimilarity float64 `koanf:"min_similarity"`
}

// QueryConfig holds the /query answer loop settings.
type QueryConfig struct {
	// QualityThreshold is the minimum acceptable answer quality score.
	QualityThreshold float64 `koanf:"quality_threshold"`

	// MaxAttempts bounds the regenerate loop.
	MaxAttempts int `koanf:"max_attempts"`
}

// ScrubConfig holds secret-scrubbing settings for outbound email content.
type ScrubConfig struct {
	// Enabled turns on scrubbing of email text before it reaches the
	// embedding and LLM providers.
	Enabled bool `koanf:"enabled"`

	// AllowlistPath optionally points at a .gitleaks.toml allowlist.
	AllowlistPath string `koanf:"allowlist_path"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return errors.New("vectorstore vector_size must be positive")
	}

	switch c.Embedding.Provider {
	case "gemini", "openai", "fastembed":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	if c.Embedding.Dimension != c.VectorStore.VectorSize {
		return fmt.Errorf("embedding dimension %d does not match vectorstore vector_size %d",
			c.Embedding.Dimension, c.VectorStore.VectorSize)
	}

	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}
	if c.LLM.RateRPS <= 0 {
		return errors.New("llm rate_rps must be positive")
	}
	if c.LLM.MaxRetries < 1 {
		return errors.New("llm max_retries must be at least 1")
	}

	if c.Sync.Interval.Duration() <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Sync.BatchSize < 1 {
		return errors.New("sync batch_size must be at least 1")
	}
	if c.Sync.Workers < 1 {
		return errors.New("sync workers must be at least 1")
	}

	if c.Triage.ConfidenceThreshold < 0 || c.Triage.ConfidenceThreshold > 1 {
		return errors.New("triage confidence_threshold must be between 0.0 and 1.0")
	}
	switch c.Triage.DiscardAction {
	case "archive", "trash", "none":
	default:
		return fmt.Errorf("triage discard_action must be 'archive', 'trash' or 'none', got %q", c.Triage.DiscardAction)
	}

	if c.Retrieval.K < 1 || c.Retrieval.K > 5 {
		return fmt.Errorf("retrieval k must be between 1 and 5, got %d", c.Retrieval.K)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return errors.New("retrieval min_similarity must be between 0.0 and 1.0")
	}

	if c.Query.QualityThreshold < 0 || c.Query.QualityThreshold > 1 {
		return errors.New("query quality_threshold must be between 0.0 and 1.0")
	}
	if c.Query.MaxAttempts < 1 {
		return errors.New("query max_attempts must be at least 1")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/triaged/triaged.db"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "preferences"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 768 // text-embedding-004 dimensions
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/triaged/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = Duration(time.Second)
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "gemini"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
		case "fastembed":
			cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
		default:
			cfg.Embedding.Model = "text-embedding-004"
		}
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 768
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8080/v1"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-1.5-flash"
	}
	if cfg.LLM.RateRPS == 0 {
		cfg.LLM.RateRPS = 1
	}
	if cfg.LLM.RateBurst == 0 {
		cfg.LLM.RateBurst = 2
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBase == 0 {
		cfg.LLM.RetryBase = Duration(time.Second)
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(30 * time.Second)
	}

	if cfg.Mail.TokenPath == "" {
		cfg.Mail.TokenPath = "~/.config/triaged/google.token"
	}
	if cfg.Mail.Query == "" {
		cfg.Mail.Query = "in:inbox"
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = Duration(5 * time.Minute)
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 10
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 2
	}
	if cfg.Sync.ErrorBackoff == 0 {
		cfg.Sync.ErrorBackoff = Duration(60 * time.Second)
	}
	if cfg.Sync.MaxBodyKB == 0 {
		cfg.Sync.MaxBodyKB = 32
	}

	if cfg.Triage.ConfidenceThreshold == 0 {
		cfg.Triage.ConfidenceThreshold = 0.7
	}
	if cfg.Triage.DiscardAction == "" {
		cfg.Triage.DiscardAction = "archive"
	}

	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}
	if cfg.Retrieval.MinSimilarity == 0 {
		cfg.Retrieval.MinSimilarity = 0.7
	}

	if cfg.Query.QualityThreshold == 0 {
		cfg.Query.QualityThreshold = 0.7
	}
	if cfg.Query.MaxAttempts == 0 {
		cfg.Query.MaxAttempts = 3
	}
}
