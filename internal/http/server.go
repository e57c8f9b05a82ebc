// Package http serves the long-running surface of deltasync: health and
// metrics endpoints, the GitHub push webhook and a small admin API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/fyrsmithlabs/commitdelta/internal/secrets"
	"github.com/fyrsmithlabs/commitdelta/internal/syncer"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Trigger requests a sync cycle. It returns false when the request was
// merged into one that is already pending.
type Trigger interface {
	Trigger(reason string) bool
}

// StatusSource reports the most recent cycle.
type StatusSource interface {
	Last() (syncer.LastCycle, bool)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Branch is the tracked branch; pushes to other refs are ignored.
	Branch string
	// Repository, when set, is the owner/name that pushes must come from.
	Repository string
	// WebhookSecret validates X-Hub-Signature-256. The webhook route is
	// only registered when it is set.
	WebhookSecret config.Secret
	// WebhookRateLimit is requests per second per client IP. Default: 1
	WebhookRateLimit float64
	// MaxBodyBytes caps webhook payloads. Default: 1MB
	MaxBodyBytes int64

	Version string
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9090
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.WebhookRateLimit <= 0 {
		c.WebhookRateLimit = 1
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// Server provides HTTP endpoints for deltasync serve mode.
type Server struct {
	echo     *echo.Echo
	trigger  Trigger
	status   StatusSource
	scrubber *secrets.Scrubber
	limiters *ipLimiters
	meters   metric.MeterProvider
	logger   *logging.Logger
	config   *Config
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStatus exposes the last cycle at GET /api/v1/status.
func WithStatus(status StatusSource) Option {
	return func(s *Server) { s.status = status }
}

// WithScrubber enables POST /api/v1/scrub, which previews how patches will
// be redacted before indexing.
func WithScrubber(scrubber *secrets.Scrubber) Option {
	return func(s *Server) { s.scrubber = scrubber }
}

// WithMeterProvider records HTTP metrics on mp instead of the global
// meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) { s.meters = mp }
}

// NewServer creates a new HTTP server.
func NewServer(trigger Trigger, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		trigger:  trigger,
		limiters: newIPLimiters(cfg.WebhookRateLimit, webhookBurst),
		logger:   logger.Named("http"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(s.meters, s.logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if s.config.WebhookSecret.IsSet() {
		s.echo.POST("/webhook/github", s.handleGitHubWebhook)
	} else {
		s.logger.Warn(context.Background(), "webhook secret not configured, POST /webhook/github is disabled")
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/sync", s.handleSync)
	if s.scrubber != nil {
		v1.POST("/scrub", s.handleScrub)
	}
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{Status: "unknown", Version: s.config.Version, Branch: s.config.Branch}
	if s.status != nil {
		if last, ok := s.status.Last(); ok {
			res := last.Result
			finished := last.FinishedAt
			resp.LastCycle = &res
			resp.FinishedAt = &finished
			resp.Status = "idle"
			if last.Err != nil {
				resp.Status = "degraded"
				resp.LastError = last.Err.Error()
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSync(c echo.Context) error {
	if s.trigger.Trigger("api") {
		return c.JSON(http.StatusAccepted, TriggerResponse{Status: "queued"})
	}
	return c.JSON(http.StatusAccepted, TriggerResponse{Status: "coalesced", Reason: "a cycle is already pending"})
}

func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)
	s.logger.Debug(c.Request().Context(), "scrubbed content", zap.Int("findings", result.Total))

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.Total,
		ByRule:        result.ByRule,
	})
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
