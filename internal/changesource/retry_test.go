package changesource

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func statusResponse(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	cfg := &RetryConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)

	cfg = &RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
}

func TestRetryGitHubOperation_RecoversFromTransientErrors(t *testing.T) {
	tl := logging.NewTestLogger()
	calls := 0
	resp, err := retryGitHubOperation(context.Background(), fastRetry(), tl.Logger, func() (*github.Response, error) {
		calls++
		if calls < 3 {
			return statusResponse(http.StatusServiceUnavailable), errors.New("unavailable")
		}
		return statusResponse(http.StatusOK), nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
	tl.AssertLogged(t, zapcore.InfoLevel, "recovered after retries")
}

func TestRetryGitHubOperation_NonRetryable(t *testing.T) {
	calls := 0
	_, err := retryGitHubOperation(context.Background(), fastRetry(), nil, func() (*github.Response, error) {
		calls++
		return statusResponse(http.StatusNotFound), errors.New("not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryGitHubOperation_Exhausted(t *testing.T) {
	tl := logging.NewTestLogger()
	calls := 0
	resp, err := retryGitHubOperation(context.Background(), fastRetry(), tl.Logger, func() (*github.Response, error) {
		calls++
		return statusResponse(http.StatusBadGateway), errors.New("bad gateway")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, http.StatusBadGateway, getStatusCode(resp))
	assert.Contains(t, err.Error(), "failed after 3 retries")
	tl.AssertLogged(t, zapcore.WarnLevel, "retries exhausted")
}

func TestRetryGitHubOperation_NoRetries(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxRetries = NoRetries
	calls := 0
	_, err := retryGitHubOperation(context.Background(), cfg, nil, func() (*github.Response, error) {
		calls++
		return statusResponse(http.StatusServiceUnavailable), errors.New("unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "failed after 0 retries")

	// ApplyDefaults runs on every call and must not resurrect the default.
	cfg.ApplyDefaults()
	assert.Equal(t, NoRetries, cfg.MaxRetries)
}

func TestRetryGitHubOperation_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryGitHubOperation(ctx, fastRetry(), nil, func() (*github.Response, error) {
		calls++
		cancel()
		return statusResponse(http.StatusServiceUnavailable), errors.New("unavailable")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsGitHubRetryableError(t *testing.T) {
	err := errors.New("boom")
	tests := []struct {
		name string
		resp *github.Response
		want bool
	}{
		{"no response", nil, true},
		{"429", statusResponse(http.StatusTooManyRequests), true},
		{"500", statusResponse(http.StatusInternalServerError), true},
		{"504", statusResponse(http.StatusGatewayTimeout), true},
		{"507", statusResponse(http.StatusInsufficientStorage), true},
		{"400", statusResponse(http.StatusBadRequest), false},
		{"401", statusResponse(http.StatusUnauthorized), false},
		{"404", statusResponse(http.StatusNotFound), false},
		{"422", statusResponse(http.StatusUnprocessableEntity), false},
		{"403 without rate info", statusResponse(http.StatusForbidden), false},
		{"403 with rate info", &github.Response{
			Response: &http.Response{StatusCode: http.StatusForbidden},
			Rate:     github.Rate{Limit: 5000},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isGitHubRetryableError(err, tt.resp))
		})
	}
	assert.False(t, isGitHubRetryableError(nil, nil))
}

func TestGetRateLimitBackoff(t *testing.T) {
	resp := &github.Response{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Rate: github.Rate{
			Limit: 5000,
			Reset: github.Timestamp{Time: time.Now().Add(10 * time.Second)},
		},
	}
	b := getRateLimitBackoff(resp, time.Minute)
	assert.Greater(t, b, 9*time.Second)
	assert.LessOrEqual(t, b, 11*time.Second)

	assert.Equal(t, 5*time.Second, getRateLimitBackoff(resp, 5*time.Second), "capped at max backoff")
	assert.Equal(t, 50*time.Millisecond, getRateLimitBackoff(nil, 50*time.Millisecond))
}
