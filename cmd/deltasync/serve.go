package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	httpserver "github.com/fyrsmithlabs/commitdelta/internal/http"
	"github.com/fyrsmithlabs/commitdelta/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run cycles on an interval and on GitHub push webhooks",
		Long: `Run until interrupted. A cycle runs at startup, every sync.interval and
whenever a push to the tracked branch arrives at POST /webhook/github.
Triggers that arrive while a cycle is running coalesce into one follow-up
cycle. GET /health and GET /metrics are served on server.host:server.http_port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	s, err := a.newSyncer(ctx)
	if err != nil {
		return err
	}
	scheduler := syncer.NewScheduler(s, a.cfg.Sync.Interval, a.logger)

	scrubber, err := a.openScrubber()
	if err != nil {
		return err
	}
	serverOpts := []httpserver.Option{httpserver.WithStatus(scheduler)}
	if scrubber != nil {
		serverOpts = append(serverOpts, httpserver.WithScrubber(scrubber))
	}

	repository := ""
	if a.cfg.Source.Provider == "github" {
		repository = a.cfg.GitHub.Owner + "/" + a.cfg.GitHub.Repo
	}
	srv, err := httpserver.NewServer(scheduler, a.logger, &httpserver.Config{
		Host:             a.cfg.Server.Host,
		Port:             a.cfg.Server.Port,
		Branch:           a.cfg.Source.Branch,
		Repository:       repository,
		WebhookSecret:    a.cfg.GitHub.WebhookSecret,
		WebhookRateLimit: a.cfg.Server.WebhookRateLimit,
		MaxBodyBytes:     a.cfg.Server.MaxBodyBytes,
		Version:          version,
	}, serverOpts...)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	a.logger.Info(ctx, "deltasync serving",
		zap.String("ref", a.cfg.TrackedRef()),
		zap.Duration("interval", a.cfg.Sync.Interval),
		zap.String("addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logger.Info(context.WithoutCancel(ctx), "deltasync stopped")
	return err
}
