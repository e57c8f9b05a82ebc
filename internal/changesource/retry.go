package changesource

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. Zero selects the
	// default of 3; NoRetries makes a single attempt.
	MaxRetries int

	// InitialBackoff is the first backoff duration. Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps every backoff, including rate-limit waits. Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor. Default: 2
	BackoffMultiplier float64
}

// NoRetries disables retrying when used as RetryConfig.MaxRetries.
const NoRetries = -1

// DefaultRetryConfig returns the default retry configuration for GitHub API calls.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryGitHubOperation retries a GitHub API operation with exponential
// backoff, waiting for the rate-limit reset when the API reports one.
func retryGitHubOperation(ctx context.Context, config *RetryConfig, log *logging.Logger, operation func() (*github.Response, error)) (*github.Response, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	config.ApplyDefaults()
	if log == nil {
		log = logging.NewNop()
	}

	var lastErr error
	var lastResp *github.Response
	backoff := config.InitialBackoff
	startTime := time.Now()
	retries := max(config.MaxRetries, 0)

	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info(ctx, "GitHub API operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if ctx.Err() != nil {
			return resp, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		if !isGitHubRetryableError(err, resp) {
			log.Debug(ctx, "GitHub API error is not retryable",
				zap.Error(err),
				zap.Int("status_code", getStatusCode(resp)),
			)
			return resp, err
		}

		if attempt == retries {
			break
		}

		if isRateLimitError(resp) {
			backoff = getRateLimitBackoff(resp, config.MaxBackoff)
			log.Info(ctx, "GitHub API rate limit hit, adjusting backoff",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", retries+1),
				zap.Duration("backoff", backoff),
			)
		} else {
			log.Info(ctx, "Retrying GitHub API operation after transient error",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", retries+1),
				zap.Error(err),
				zap.Int("status_code", getStatusCode(resp)),
				zap.Duration("backoff", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			nextBackoff := time.Duration(float64(backoff) * config.BackoffMultiplier)
			if nextBackoff > config.MaxBackoff {
				nextBackoff = config.MaxBackoff
			}
			backoff = nextBackoff
		}
	}

	log.Warn(ctx, "GitHub API operation failed after all retries exhausted",
		zap.Int("total_attempts", retries+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
		zap.Int("status_code", getStatusCode(lastResp)),
	)

	return lastResp, fmt.Errorf("GitHub API operation failed after %d retries: %w", retries, lastErr)
}

// isGitHubRetryableError checks if a GitHub API error is retryable.
func isGitHubRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}

	if resp != nil && resp.Response != nil {
		statusCode := resp.Response.StatusCode

		switch statusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true

		case http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity:
			return false

		case http.StatusForbidden:
			// Secondary rate limits come back as 403 with rate info attached.
			return resp.Rate.Limit > 0

		default:
			return statusCode >= 500 && statusCode < 600
		}
	}

	// No status: network error, timeout, reset connection.
	return true
}

// isRateLimitError checks if the response indicates a rate limit error.
func isRateLimitError(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.Response.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Response.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0
}

// getRateLimitBackoff waits until the rate limit reset (plus one second),
// capped at maxBackoff.
func getRateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		if maxBackoff < time.Minute {
			return maxBackoff
		}
		return time.Minute
	}

	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < 0 {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// getStatusCode safely extracts the HTTP status code from a GitHub response.
func getStatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
