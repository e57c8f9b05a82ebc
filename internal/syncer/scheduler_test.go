package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls    atomic.Int32
	triggers chan string
	gate     chan struct{}
	err      error
}

func (f *fakeRunner) Run(ctx context.Context) (Result, error) {
	f.calls.Add(1)
	if f.triggers != nil {
		f.triggers <- logging.TriggerFromContext(ctx)
	}
	if f.gate != nil {
		<-f.gate
	}
	return Result{State: StateUpToDate}, f.err
}

func TestScheduler_RunsAtStartupAndOnTrigger(t *testing.T) {
	r := &fakeRunner{triggers: make(chan string, 4)}
	s := NewScheduler(r, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Equal(t, "startup", <-r.triggers)
	require.True(t, s.Trigger("webhook"))
	assert.Equal(t, "webhook", <-r.triggers)

	cancel()
	require.NoError(t, <-done)

	last, ok := s.Last()
	require.True(t, ok)
	require.NoError(t, last.Err)
	assert.Equal(t, StateUpToDate, last.Result.State)
	assert.False(t, last.FinishedAt.IsZero())
}

func TestScheduler_CoalescesTriggers(t *testing.T) {
	r := &fakeRunner{triggers: make(chan string, 4), gate: make(chan struct{})}
	s := NewScheduler(r, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-r.triggers // startup cycle is running and blocked

	assert.True(t, s.Trigger("webhook"))
	assert.False(t, s.Trigger("webhook"), "second trigger merges into the pending one")
	assert.False(t, s.Trigger("api"))

	r.gate <- struct{}{} // finish startup
	assert.Equal(t, "webhook", <-r.triggers)
	r.gate <- struct{}{}

	require.Eventually(t, func() bool { return s.Trigger("api") }, time.Second, time.Millisecond)
	assert.Equal(t, "api", <-r.triggers)
	cancel()
	r.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.EqualValues(t, 3, r.calls.Load())
}

func TestScheduler_Interval(t *testing.T) {
	r := &fakeRunner{}
	s := NewScheduler(r, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestScheduler_RecordsFailure(t *testing.T) {
	r := &fakeRunner{err: &AbortError{State: StateResolvingHead, Reason: "head unavailable"}, triggers: make(chan string, 1)}
	s := NewScheduler(r, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-r.triggers

	require.Eventually(t, func() bool { _, ok := s.Last(); return ok }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	last, _ := s.Last()
	assert.True(t, errors.As(last.Err, new(*AbortError)))
}
