package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty input text
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates a vector of unexpected length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider embeds one text at a time.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector length the provider produces.
	Dimension() int
	Close() error
}

// QueryEmbedder is implemented by providers that embed search queries
// differently from stored documents (BGE "query: " prefixes).
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedQuery embeds a search query, preferring the provider's query mode.
func EmbedQuery(ctx context.Context, p Provider, text string) ([]float32, error) {
	if q, ok := p.(QueryEmbedder); ok {
		return q.EmbedQuery(ctx, text)
	}
	return p.Embed(ctx, text)
}

// EmbeddingError is a failed embedding of a single text.
type EmbeddingError struct {
	Op         string
	StatusCode int // remote HTTP status, 0 when not applicable
	Err        error
}

func (e *EmbeddingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embed %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embed %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IsEmbeddingError reports whether err is an *EmbeddingError.
func IsEmbeddingError(err error) bool {
	var e *EmbeddingError
	return errors.As(err, &e)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	var e *EmbeddingError
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
	return true
}

// modelDimensions lists known output sizes by model name.
var modelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
	"text-embedding-ada-002":                 1536,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
}

// DetectDimension returns the embedding dimension for a model name.
// Falls back to 384 if the model is unknown.
func DetectDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider creates the configured provider wrapped in Limited.
func NewProvider(ctx context.Context, cfg config.EmbeddingsConfig, logger *logging.Logger) (*Limited, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var (
		inner Provider
		err   error
	)
	switch cfg.Provider {
	case "tei", "":
		inner, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
		})
	case "openai", "azure":
		inner, err = NewOpenAIProvider(OpenAIConfig{
			Azure:      cfg.Provider == "azure",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			APIVersion: cfg.APIVersion,
			Model:      cfg.Model,
			Dimension:  cfg.Dimension,
		})
	case "fastembed":
		inner, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Dimension > 0 && inner.Dimension() > 0 && inner.Dimension() != cfg.Dimension {
		_ = inner.Close()
		return nil, fmt.Errorf("%w: model %s produces %d dimensions, configured %d",
			ErrInvalidConfig, cfg.Model, inner.Dimension(), cfg.Dimension)
	}

	logger.Info(ctx, "embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", inner.Dimension()))

	return NewLimited(inner, LimitConfig{
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
	}, logger), nil
}
