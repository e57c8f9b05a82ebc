package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"go.uber.org/zap"
)

// Runner runs one cycle. *Syncer implements it.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler runs cycles on a fixed interval and on demand. Cycles run one
// at a time on the goroutine that called Scheduler.Run; at most one
// on-demand trigger waits behind the running cycle and further triggers
// coalesce into it.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *logging.Logger
	pending  chan string

	mu   sync.RWMutex
	last LastCycle
	ran  bool
}

// LastCycle is the outcome of the most recent scheduled cycle.
type LastCycle struct {
	Result     Result
	Err        error
	FinishedAt time.Time
}

// NewScheduler creates a Scheduler. interval <= 0 disables periodic cycles.
func NewScheduler(runner Runner, interval time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.Named("scheduler"),
		pending:  make(chan string, 1),
	}
}

// Trigger requests a cycle. It returns false when a request is already
// pending, in which case this one is merged into it.
func (s *Scheduler) Trigger(reason string) bool {
	select {
	case s.pending <- reason:
		return true
	default:
		return false
	}
}

// Last returns the most recent cycle. ok is false until one has finished.
func (s *Scheduler) Last() (LastCycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ran
}

// Run starts with one cycle and then serves the interval and triggers until
// ctx is cancelled. Aborted cycles are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.runOnce(ctx, "interval")
		case reason := <-s.pending:
			s.runOnce(ctx, reason)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	ctx = logging.WithTrigger(ctx, trigger)
	res, err := s.runner.Run(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		s.logger.Debug(ctx, "cycle already running, trigger dropped")
		return
	}

	s.mu.Lock()
	s.last = LastCycle{Result: res, Err: err, FinishedAt: time.Now()}
	s.ran = true
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn(ctx, "scheduled cycle failed", zap.String("trigger", trigger), zap.Error(err))
	}
}
