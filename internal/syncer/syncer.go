package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/changesource"
	"github.com/fyrsmithlabs/commitdelta/internal/delta"
	"github.com/fyrsmithlabs/commitdelta/internal/embeddings"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/fyrsmithlabs/commitdelta/internal/revision"
	"github.com/fyrsmithlabs/commitdelta/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers       = 4
	defaultCommitTimeout = 10 * time.Second
)

// undatedRevision stamps units of a revision that carries neither an author
// nor a committer date. It is fixed so replaying a delta rewrites identical
// records.
var undatedRevision = time.Unix(0, 0).UTC()

// Config tunes a Syncer.
type Config struct {
	// Branch is the tracked branch. Default: "main"
	Branch string

	// Workers bounds how many entries are embedded and upserted at once.
	Workers int

	// CommitTimeout bounds the pointer write. The write does not observe
	// cancellation of the cycle context.
	CommitTimeout time.Duration

	// Filter drops entries before transformation. Nil keeps everything.
	Filter *delta.Filter

	// Transformer scrubs and truncates entries. Nil renders them as is.
	Transformer *delta.Transformer

	// LockPath is an exclusive lockfile taken for the whole cycle. Empty
	// disables cross-process locking.
	LockPath       string
	LockStaleAfter time.Duration

	// Tracer overrides the global tracer.
	Tracer trace.Tracer
}

func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = defaultCommitTimeout
	}
	if c.Transformer == nil {
		c.Transformer = delta.NewTransformer(0, nil)
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer("deltasync.syncer")
	}
}

// Syncer runs sync cycles against one tracked branch.
type Syncer struct {
	source   changesource.Source
	tracker  revision.Tracker
	embedder embeddings.Provider
	sink     vectorstore.Sink
	cfg      Config
	logger   *logging.Logger
	running  cycleLock
}

// New creates a Syncer. The collaborators are owned by the caller.
func New(
	source changesource.Source,
	tracker revision.Tracker,
	embedder embeddings.Provider,
	sink vectorstore.Sink,
	cfg Config,
	logger *logging.Logger,
) (*Syncer, error) {
	if source == nil || tracker == nil || embedder == nil || sink == nil {
		return nil, errors.New("syncer requires a source, tracker, embedder and sink")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.applyDefaults()
	return &Syncer{
		source:   source,
		tracker:  tracker,
		embedder: embedder,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.Named("syncer"),
	}, nil
}

// cycle carries the state of one Run.
type cycle struct {
	res  Result
	span trace.Span
}

func (c *cycle) enter(s State) {
	c.res.State = s
	c.res.Transitions = append(c.res.Transitions, s)
	c.span.AddEvent(string(s))
}

// Run executes one cycle. It returns ErrCycleInProgress if a cycle of this
// Syncer is already running and an *AbortError if the cycle aborted. A
// cycle that ends in BOOTSTRAP or UP_TO_DATE is a success.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	if !s.running.TryAcquire() {
		return Result{}, ErrCycleInProgress
	}
	defer s.running.Release()

	start := time.Now()
	c := &cycle{res: Result{CycleID: uuid.NewString()}}
	ctx = logging.WithCycleID(ctx, c.res.CycleID)

	ctx, c.span = s.cfg.Tracer.Start(ctx, "sync.cycle",
		trace.WithAttributes(
			attribute.String("cycle_id", c.res.CycleID),
			attribute.String("branch", s.cfg.Branch),
		))
	defer c.span.End()

	c.enter(StateIdle)
	err := s.run(ctx, c)
	if err != nil {
		c.enter(StateAborted)
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, "cycle aborted")
		s.logger.Error(ctx, "sync cycle aborted",
			zap.String("from", c.res.From),
			zap.String("head", c.res.To),
			zap.Error(err))
	} else {
		c.span.SetStatus(codes.Ok, "")
	}

	c.res.Duration = time.Since(start)
	c.span.SetAttributes(
		attribute.String("state", string(c.res.State)),
		attribute.Int("attempted", c.res.Summary.Attempted),
		attribute.Int("succeeded", c.res.Summary.Succeeded),
		attribute.Int("skipped", c.res.Summary.Skipped),
	)
	recordCycle(c.res)

	s.logger.Info(ctx, "sync cycle finished",
		zap.String("state", string(c.res.State)),
		zap.String("from", c.res.From),
		zap.String("to", c.res.To),
		zap.Int("attempted", c.res.Summary.Attempted),
		zap.Int("succeeded", c.res.Summary.Succeeded),
		zap.Int("skipped", c.res.Summary.Skipped),
		zap.Int("filtered", c.res.Summary.Filtered),
		zap.Duration("duration", c.res.Duration))
	return c.res, err
}

func (s *Syncer) run(ctx context.Context, c *cycle) error {
	if s.cfg.LockPath != "" {
		lock, err := AcquireFileLock(s.cfg.LockPath, s.cfg.LockStaleAfter)
		if err != nil {
			return &AbortError{State: StateIdle, Reason: "could not lock revision state", Err: err}
		}
		defer func() {
			if err := lock.Release(); err != nil {
				s.logger.Warn(ctx, "failed to release lockfile", zap.Error(err))
			}
		}()
	}

	c.enter(StateResolvingHead)
	head, ok := s.source.ResolveHead(ctx, s.cfg.Branch)
	if err := ctx.Err(); err != nil {
		return &AbortError{State: StateResolvingHead, Reason: "cancelled", Err: err}
	}
	if !ok {
		return &AbortError{State: StateResolvingHead, Reason: fmt.Sprintf("head of branch %q is unavailable", s.cfg.Branch)}
	}
	c.res.To = head
	ctx = logging.WithRevision(ctx, head)

	pointer, found, err := s.tracker.Read(ctx)
	if err != nil {
		return &AbortError{State: StateResolvingHead, Reason: "reading revision pointer", Err: err}
	}

	if !found {
		c.enter(StateBootstrap)
		if err := s.commit(ctx, head); err != nil {
			return &AbortError{State: StateBootstrap, Reason: "writing initial revision pointer", Err: err}
		}
		s.logger.Info(ctx, "bootstrapped revision pointer, history before head is not indexed")
		return nil
	}
	c.res.From = pointer

	if pointer == head {
		c.enter(StateUpToDate)
		s.logger.Debug(ctx, "index is up to date")
		return nil
	}

	c.enter(StateFetchingDelta)
	entries, ok := s.source.Diff(ctx, pointer, head)
	if !ok {
		return &AbortError{State: StateFetchingDelta, Reason: fmt.Sprintf("diff %s...%s is unavailable", pointer, head)}
	}
	meta, ok := s.source.Metadata(ctx, head)
	if !ok {
		return &AbortError{State: StateFetchingDelta, Reason: fmt.Sprintf("metadata of %s is unavailable", head)}
	}
	if err := ctx.Err(); err != nil {
		return &AbortError{State: StateFetchingDelta, Reason: "cancelled", Err: err}
	}
	meta.Revision = head
	if meta.AuthoredAt.IsZero() {
		meta.AuthoredAt = undatedRevision
	}

	c.enter(StateTransforming)
	s.logger.Info(ctx, "indexing delta", zap.String("from", pointer), zap.Int("entries", len(entries)))
	summary, sinkErr := s.process(ctx, entries, meta)
	c.res.Summary = summary
	if err := ctx.Err(); err != nil {
		return &AbortError{State: StateTransforming, Reason: "cancelled", Err: err}
	}
	if sinkErr != nil {
		return &AbortError{State: StateTransforming, Reason: "vector index unavailable", Err: sinkErr}
	}

	c.enter(StateCommitting)
	if err := s.commit(ctx, head); err != nil {
		return &AbortError{State: StateCommitting, Reason: "writing revision pointer", Err: err}
	}
	c.enter(StateIdle)
	return nil
}

// commit writes the pointer. Cancellation is honored only before the write
// starts; the write runs detached with its own deadline.
func (s *Syncer) commit(ctx context.Context, head string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	defer cancel()

	_, span := s.cfg.Tracer.Start(writeCtx, "sync.commit", trace.WithAttributes(attribute.String("revision", head)))
	defer span.End()

	if err := s.tracker.Write(writeCtx, head); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pointer write failed")
		return err
	}
	LastCommitTimestamp.SetToCurrentTime()
	return nil
}

// process runs every entry through filter, transform, embed and upsert.
// Embedding failures and schema rejections are per-entry skips. A
// *vectorstore.SinkError means the store itself failed: it is returned so
// the cycle does not commit, and entries not yet started are skipped.
func (s *Syncer) process(ctx context.Context, entries []changesource.ChangedEntry, meta changesource.RevisionMetadata) (Summary, error) {
	var (
		mu      sync.Mutex
		sum     Summary
		sinkErr error
		g       errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, entry := range entries {
		if !s.cfg.Filter.Allow(entry.Filename) {
			sum.Filtered++
			s.logger.Debug(ctx, "entry filtered", zap.String("filename", entry.Filename))
			continue
		}
		if ctx.Err() != nil {
			break
		}
		sum.Attempted++

		g.Go(func() error {
			mu.Lock()
			down := sinkErr
			mu.Unlock()

			var err error
			if down != nil {
				err = fmt.Errorf("not attempted: %w", down)
			} else {
				err = s.index(ctx, entry, meta)
			}

			mu.Lock()
			defer mu.Unlock()
			var se *vectorstore.SinkError
			if sinkErr == nil && errors.As(err, &se) {
				sinkErr = err
			}
			if err != nil {
				sum.Skipped++
				sum.Failures = append(sum.Failures, Failure{Filename: entry.Filename, Reason: err.Error()})
				s.logger.Warn(ctx, "skipped entry",
					zap.String("filename", entry.Filename),
					zap.String("status", string(entry.Status)),
					zap.Error(err))
				return nil
			}
			sum.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(sum.Failures, func(i, j int) bool {
		return sum.Failures[i].Filename < sum.Failures[j].Filename
	})
	return sum, sinkErr
}

func (s *Syncer) index(ctx context.Context, entry changesource.ChangedEntry, meta changesource.RevisionMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := s.cfg.Tracer.Start(ctx, "sync.unit", trace.WithAttributes(
		attribute.String("filename", entry.Filename),
		attribute.String("status", string(entry.Status)),
	))
	defer span.End()

	unit, rep := s.cfg.Transformer.Transform(entry, meta)
	if rep.Redactions > 0 {
		s.logger.Info(ctx, "redacted secrets from entry",
			zap.String("filename", entry.Filename), zap.Int("redactions", rep.Redactions))
	}
	if rep.Truncated {
		s.logger.Debug(ctx, "truncated patch", zap.String("filename", entry.Filename))
	}

	vec, err := s.embedder.Embed(ctx, unit.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return fmt.Errorf("embedding: %w", err)
	}
	unit.Vector = vec

	if err := s.sink.Upsert(ctx, unit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}
