package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	webhookBurst = 10

	// limiterTTL drops per-IP limiters so the map cannot grow without bound.
	limiterTTL = time.Hour
)

// ipLimiters hands out one token bucket per client IP.
type ipLimiters struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

func newIPLimiters(perSecond float64, burst int) *ipLimiters {
	return &ipLimiters{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > limiterTTL {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// handleGitHubWebhook triggers a cycle for pushes to the tracked branch.
// Deliveries are acknowledged with 202 whether or not they trigger work;
// GitHub only needs to know the payload was accepted.
func (s *Server) handleGitHubWebhook(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	eventType := github.WebHookType(req)

	ip := c.RealIP()
	if !s.limiters.get(ip).Allow() {
		WebhookEventsTotal.WithLabelValues(eventType, "rate_limited").Inc()
		s.logger.Warn(ctx, "webhook rate limit exceeded", zap.String("ip", ip))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.config.MaxBodyBytes)
	payload, err := github.ValidatePayload(req, []byte(s.config.WebhookSecret.Value()))
	if err != nil {
		WebhookEventsTotal.WithLabelValues(eventType, "rejected").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn(ctx, "webhook payload too large", zap.Int64("limit", tooLarge.Limit))
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
		}
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		WebhookEventsTotal.WithLabelValues(eventType, "rejected").Inc()
		s.logger.Warn(ctx, "failed to parse webhook", zap.String("event", eventType), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	switch e := event.(type) {
	case *github.PingEvent:
		WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return c.JSON(http.StatusOK, TriggerResponse{Status: "pong"})

	case *github.PushEvent:
		if reason := s.ignorePush(e); reason != "" {
			WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
			s.logger.Debug(ctx, "ignoring push", zap.String("ref", e.GetRef()), zap.String("reason", reason))
			return c.JSON(http.StatusAccepted, TriggerResponse{Status: "ignored", Reason: reason})
		}

		s.logger.Info(ctx, "push received",
			zap.String("ref", e.GetRef()),
			zap.String("after", e.GetAfter()),
			zap.String("delivery", github.DeliveryID(req)))
		if s.trigger.Trigger("webhook") {
			WebhookEventsTotal.WithLabelValues(eventType, "queued").Inc()
			return c.JSON(http.StatusAccepted, TriggerResponse{Status: "queued"})
		}
		WebhookEventsTotal.WithLabelValues(eventType, "coalesced").Inc()
		return c.JSON(http.StatusAccepted, TriggerResponse{Status: "coalesced", Reason: "a cycle is already pending"})

	default:
		WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		s.logger.Debug(ctx, "ignoring event type", zap.String("event", eventType))
		return c.JSON(http.StatusAccepted, TriggerResponse{Status: "ignored", Reason: "unsupported event"})
	}
}

// ignorePush returns why a push does not concern the tracked branch, or ""
// when it does.
func (s *Server) ignorePush(e *github.PushEvent) string {
	if e.GetRef() != "refs/heads/"+s.config.Branch {
		return "untracked ref"
	}
	if e.GetDeleted() {
		return "branch deleted"
	}
	if s.config.Repository != "" && e.GetRepo().GetFullName() != s.config.Repository {
		return "untracked repository"
	}
	return ""
}
