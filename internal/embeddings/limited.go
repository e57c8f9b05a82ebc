package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LimitConfig configures Limited.
type LimitConfig struct {
	Model      string        // metrics label
	Timeout    time.Duration // per attempt, default 30s
	MaxRetries int           // retries after the first attempt
	RateLimit  float64       // calls per second, 0 disables
	Burst      int

	// BaseDelay and MaxDelay bound the exponential backoff between
	// attempts. Defaults: 500ms and 10s.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Limited wraps a Provider with rate limiting, per-attempt timeouts,
// bounded retries and a dimension check. Every error it returns is an
// *EmbeddingError.
type Limited struct {
	inner   Provider
	cfg     LimitConfig
	limiter *rate.Limiter
	metrics *Metrics
	logger  *logging.Logger
}

var _ Provider = (*Limited)(nil)

// NewLimited wraps inner.
func NewLimited(inner Provider, cfg LimitConfig, logger *logging.Logger) *Limited {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Limited{
		inner:   inner,
		cfg:     cfg,
		limiter: limiter,
		metrics: NewMetrics(logger.Underlying()),
		logger:  logger.Named("embeddings"),
	}
}

// Embed embeds a document.
func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	return l.do(ctx, "embed", text, l.inner.Embed)
}

// EmbedQuery embeds a search query using the inner provider's query mode
// when it has one.
func (l *Limited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return l.do(ctx, "embed_query", text, func(ctx context.Context, text string) ([]float32, error) {
		return EmbedQuery(ctx, l.inner, text)
	})
}

func (l *Limited) do(ctx context.Context, op, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	start := time.Now()
	attempts := 0
	var lastErr error
	defer func() {
		l.metrics.RecordEmbed(ctx, l.cfg.Model, time.Since(start), attempts, lastErr)
	}()

	if text == "" {
		lastErr = &EmbeddingError{Op: op, Err: ErrEmptyInput}
		return nil, lastErr
	}

	backoff := l.cfg.BaseDelay
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			lastErr = &EmbeddingError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
			return nil, lastErr
		}

		attempts++
		vec, err := l.attempt(ctx, text, fn)
		if err == nil {
			if want := l.inner.Dimension(); want > 0 && len(vec) != want {
				lastErr = &EmbeddingError{Op: op, Err: fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)}
				return nil, lastErr
			}
			lastErr = nil
			return vec, nil
		}
		lastErr = asEmbeddingError(op, err)

		if ctx.Err() != nil || !retryable(lastErr) || attempt == l.cfg.MaxRetries {
			break
		}

		l.logger.Debug(ctx, "retrying embedding",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			lastErr = &EmbeddingError{Op: op, Err: ctx.Err()}
			return nil, lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.cfg.MaxDelay {
			backoff = l.cfg.MaxDelay
		}
	}
	return nil, lastErr
}

func (l *Limited) attempt(ctx context.Context, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	return fn(callCtx, text)
}

func asEmbeddingError(op string, err error) *EmbeddingError {
	var e *EmbeddingError
	if errors.As(err, &e) {
		return e
	}
	return &EmbeddingError{Op: op, Err: err}
}

// Dimension returns the inner provider's dimension.
func (l *Limited) Dimension() int { return l.inner.Dimension() }

// Close closes the inner provider.
func (l *Limited) Close() error { return l.inner.Close() }
