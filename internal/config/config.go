// Package config provides configuration loading for deltasync.
//
// Configuration is read from an optional YAML file and overridden by
// DELTASYNC_-prefixed environment variables. Defaults are applied before
// either source is read, so zero values in the file are honored.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete deltasync configuration.
type Config struct {
	Source      SourceConfig      `koanf:"source"`
	GitHub      GitHubConfig      `koanf:"github"`
	Git         GitConfig         `koanf:"git"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	State       StateConfig       `koanf:"state"`
	Sync        SyncConfig        `koanf:"sync"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// SourceConfig selects the change source and the tracked branch.
type SourceConfig struct {
	Provider    string        `koanf:"provider"` // github or git
	Branch      string        `koanf:"branch"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	ContentMode bool          `koanf:"content_mode"` // fetch full file bodies for added/modified files
}

// GitHubConfig holds the hosting API coordinates.
type GitHubConfig struct {
	BaseURL       string `koanf:"base_url"` // empty means api.github.com
	Owner         string `koanf:"owner"`
	Repo          string `koanf:"repo"`
	Token         Secret `koanf:"token"`
	WebhookSecret Secret `koanf:"webhook_secret"`
}

// GitConfig holds settings for the local clone source.
type GitConfig struct {
	Path   string `koanf:"path"`
	Remote string `koanf:"remote"` // resolve refs/remotes/<remote>/<branch> when set
	Fetch  bool   `koanf:"fetch"`  // fetch from Remote before resolving head
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	Provider   string        `koanf:"provider"` // tei, openai, azure, fastembed
	Model      string        `koanf:"model"`
	BaseURL    string        `koanf:"base_url"`
	APIKey     Secret        `koanf:"api_key"`
	APIVersion string        `koanf:"api_version"` // azure only
	Dimension  int           `koanf:"dimension"`
	CacheDir   string        `koanf:"cache_dir"` // fastembed model cache
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	RateLimit  float64       `koanf:"rate_limit"` // requests per second, 0 disables
	Burst      int           `koanf:"burst"`
}

// VectorStoreConfig holds sink settings.
type VectorStoreConfig struct {
	Provider     string        `koanf:"provider"` // chromem or qdrant
	Collection   string        `koanf:"collection"`
	Path         string        `koanf:"path"` // chromem persistence dir, empty for in-memory
	Compress     bool          `koanf:"compress"`
	QdrantHost   string        `koanf:"qdrant_host"`
	QdrantPort   int           `koanf:"qdrant_port"`
	QdrantAPIKey Secret        `koanf:"qdrant_api_key"`
	QdrantTLS    bool          `koanf:"qdrant_tls"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
}

// StateConfig selects where the revision pointer lives.
type StateConfig struct {
	Backend        string        `koanf:"backend"` // file or sqlite
	Path           string        `koanf:"path"`
	LockStaleAfter time.Duration `koanf:"lock_stale_after"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	Workers       int           `koanf:"workers"`
	Include       []string      `koanf:"include"`
	Exclude       []string      `koanf:"exclude"`
	MaxPatchBytes int           `koanf:"max_patch_bytes"`
	ScrubSecrets  bool          `koanf:"scrub_secrets"`
	Interval      time.Duration `koanf:"interval"` // serve mode schedule
	CommitTimeout time.Duration `koanf:"commit_timeout"`
}

// ServerConfig holds HTTP server configuration for serve mode.
type ServerConfig struct {
	Host             string        `koanf:"host"`
	Port             int           `koanf:"http_port"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
	WebhookRateLimit float64       `koanf:"webhook_rate_limit"` // requests per second per client IP
	MaxBodyBytes     int64         `koanf:"max_body_bytes"`
}

// LoggingConfig is mapped onto logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is mapped onto telemetry.Config at startup.
type TelemetryConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Endpoint       string        `koanf:"endpoint"`
	Protocol       string        `koanf:"protocol"` // grpc or http/protobuf
	Insecure       bool          `koanf:"insecure"`
	ServiceName    string        `koanf:"service_name"`
	SampleRate     float64       `koanf:"sample_rate"`
	MetricInterval time.Duration `koanf:"metric_interval"`
}

// Retries converts a configured retry count to the client convention, where
// 0 selects the client default and a negative count disables retrying.
func Retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Provider:   "github",
			Branch:     "main",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "tei",
			Model:      "BAAI/bge-small-en-v1.5",
			BaseURL:    "http://localhost:8080",
			Dimension:  384,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RateLimit:  10,
			Burst:      5,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Collection: "commit_deltas",
			Path:       ".deltasync/vectorstore",
			Compress:   true,
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		State: StateConfig{
			Backend:        "file",
			Path:           ".deltasync/last_revision",
			LockStaleAfter: time.Hour,
		},
		Sync: SyncConfig{
			Workers:       4,
			MaxPatchBytes: 64 * 1024,
			ScrubSecrets:  true,
			Interval:      5 * time.Minute,
			CommitTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             9090,
			ShutdownTimeout:  10 * time.Second,
			WebhookRateLimit: 5,
			MaxBodyBytes:     1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "deltasync",
			SampleRate:     1.0,
			MetricInterval: 15 * time.Second,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Source.Provider {
	case "github":
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return errors.New("github.owner and github.repo are required for the github source")
		}
	case "git":
		if c.Git.Path == "" {
			return errors.New("git.path is required for the git source")
		}
	default:
		return fmt.Errorf("unknown source provider %q (must be github or git)", c.Source.Provider)
	}
	if strings.TrimSpace(c.Source.Branch) == "" {
		return errors.New("source.branch is required")
	}
	if c.Source.Timeout <= 0 {
		return errors.New("source.timeout must be positive")
	}
	if c.Source.MaxRetries < 0 {
		return errors.New("source.max_retries cannot be negative")
	}

	switch c.Embeddings.Provider {
	case "tei", "openai", "azure", "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("invalid embeddings dimension: %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.Timeout <= 0 {
		return errors.New("embeddings.timeout must be positive")
	}
	if c.Embeddings.RateLimit < 0 {
		return errors.New("embeddings.rate_limit cannot be negative")
	}
	if (c.Embeddings.Provider == "openai" || c.Embeddings.Provider == "azure") && !c.Embeddings.APIKey.IsSet() {
		return fmt.Errorf("embeddings.api_key is required for the %s provider", c.Embeddings.Provider)
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.QdrantPort < 1 || c.VectorStore.QdrantPort > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.VectorStore.QdrantPort)
		}
	default:
		return fmt.Errorf("unknown vectorstore provider %q (must be chromem or qdrant)", c.VectorStore.Provider)
	}
	if c.VectorStore.MaxRetries < 0 {
		return errors.New("vectorstore.max_retries cannot be negative")
	}
	if c.VectorStore.Collection == "" {
		return errors.New("vectorstore.collection is required")
	}

	switch c.State.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown state backend %q (must be file or sqlite)", c.State.Backend)
	}
	if c.State.Path == "" {
		return errors.New("state.path is required")
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxPatchBytes < 0 {
		return errors.New("sync.max_patch_bytes cannot be negative")
	}
	if c.Sync.CommitTimeout <= 0 {
		return errors.New("sync.commit_timeout must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// TrackedRef returns a stable key for the tracked repository and branch.
func (c *Config) TrackedRef() string {
	if c.Source.Provider == "git" {
		return c.Git.Path + "@" + c.Source.Branch
	}
	return c.GitHub.Owner + "/" + c.GitHub.Repo + "@" + c.Source.Branch
}
