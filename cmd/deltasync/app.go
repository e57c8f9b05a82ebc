package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/commitdelta/internal/changesource"
	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/delta"
	"github.com/fyrsmithlabs/commitdelta/internal/embeddings"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/fyrsmithlabs/commitdelta/internal/revision"
	"github.com/fyrsmithlabs/commitdelta/internal/secrets"
	"github.com/fyrsmithlabs/commitdelta/internal/syncer"
	"github.com/fyrsmithlabs/commitdelta/internal/telemetry"
	"github.com/fyrsmithlabs/commitdelta/internal/vectorstore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// app holds the process-wide collaborators. Fields are opened on demand so
// that commands like `state show` never dial a remote service.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	tracker  revision.Tracker
	source   changesource.Source
	embedder *embeddings.Limited
	sink     vectorstore.Sink
	scrubber *secrets.Scrubber
}

// newApp loads configuration and starts logging and telemetry.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version,
		attribute.String("deltasync.ref", cfg.TrackedRef())))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	if err := tel.Degraded(); err != nil {
		logger.Warn(ctx, "telemetry export disabled", zap.Error(err))
	}
	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

func (a *app) openTracker(ctx context.Context) (revision.Tracker, error) {
	if a.tracker == nil {
		t, err := revision.Open(ctx, a.cfg.State, a.cfg.TrackedRef())
		if err != nil {
			return nil, fmt.Errorf("opening revision state: %w", err)
		}
		a.tracker = t
	}
	return a.tracker, nil
}

func (a *app) openSource(ctx context.Context) (changesource.Source, error) {
	if a.source != nil {
		return a.source, nil
	}
	switch a.cfg.Source.Provider {
	case "git":
		src, err := changesource.NewGitSource(changesource.GitConfig{
			Path:        a.cfg.Git.Path,
			Remote:      a.cfg.Git.Remote,
			Fetch:       a.cfg.Git.Fetch,
			Token:       a.cfg.GitHub.Token,
			ContentMode: a.cfg.Source.ContentMode,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.source = src
	default:
		src, err := changesource.NewGitHubSource(ctx, changesource.GitHubConfig{
			BaseURL:     a.cfg.GitHub.BaseURL,
			Owner:       a.cfg.GitHub.Owner,
			Repo:        a.cfg.GitHub.Repo,
			Token:       a.cfg.GitHub.Token,
			Timeout:     a.cfg.Source.Timeout,
			Retry:       changesource.RetryConfig{MaxRetries: config.Retries(a.cfg.Source.MaxRetries)},
			ContentMode: a.cfg.Source.ContentMode,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.source = src
	}
	return a.source, nil
}

func (a *app) openEmbedder(ctx context.Context) (*embeddings.Limited, error) {
	if a.embedder == nil {
		p, err := embeddings.NewProvider(ctx, a.cfg.Embeddings, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		a.embedder = p
	}
	return a.embedder, nil
}

func (a *app) openSink(ctx context.Context) (vectorstore.Sink, error) {
	if a.sink == nil {
		s, err := vectorstore.NewSink(ctx, a.cfg.VectorStore, a.cfg.Embeddings.Dimension, a.logger)
		if err != nil {
			return nil, fmt.Errorf("opening vector store: %w", err)
		}
		a.sink = s
	}
	return a.sink, nil
}

func (a *app) openScrubber() (*secrets.Scrubber, error) {
	if !a.cfg.Sync.ScrubSecrets {
		return nil, nil
	}
	if a.scrubber == nil {
		s, err := secrets.New(secrets.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("creating secret scrubber: %w", err)
		}
		a.scrubber = s
	}
	return a.scrubber, nil
}

// newSyncer wires every collaborator into a Syncer.
func (a *app) newSyncer(ctx context.Context) (*syncer.Syncer, error) {
	source, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	tracker, err := a.openTracker(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := a.openSink(ctx)
	if err != nil {
		return nil, err
	}
	scrubber, err := a.openScrubber()
	if err != nil {
		return nil, err
	}
	filter, err := delta.NewFilter(a.cfg.Sync.Include, a.cfg.Sync.Exclude)
	if err != nil {
		return nil, err
	}

	return syncer.New(source, tracker, embedder, sink, syncer.Config{
		Branch:         a.cfg.Source.Branch,
		Workers:        a.cfg.Sync.Workers,
		CommitTimeout:  a.cfg.Sync.CommitTimeout,
		Filter:         filter,
		Transformer:    delta.NewTransformer(a.cfg.Sync.MaxPatchBytes, scrubber),
		LockPath:       a.lockPath(),
		LockStaleAfter: a.cfg.State.LockStaleAfter,
		Tracer:         a.tel.Tracer("deltasync.syncer"),
	}, a.logger)
}

// lockPath is the lockfile guarding the revision pointer.
func (a *app) lockPath() string {
	return a.cfg.State.Path + ".lock"
}

// Close releases everything that was opened, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.tracker != nil {
		errs = append(errs, a.tracker.Close())
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
