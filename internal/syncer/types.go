// Package syncer runs sync cycles: it resolves the head of the tracked
// branch, turns the delta since the last committed revision into indexed
// units and advances the revision pointer.
//
// A cycle walks a fixed state machine:
//
//	IDLE -> RESOLVING_HEAD -> BOOTSTRAP | UP_TO_DATE | FETCHING_DELTA
//	FETCHING_DELTA -> TRANSFORMING -> COMMITTING -> IDLE
//
// ABORTED is reachable from every state. The pointer is only written in
// BOOTSTRAP and COMMITTING, so an aborted or cancelled cycle leaves the
// previous pointer authoritative and the next cycle replays the same delta.
package syncer

import (
	"errors"
	"fmt"
	"time"
)

// State is a step of the sync state machine.
type State string

const (
	StateIdle          State = "IDLE"
	StateResolvingHead State = "RESOLVING_HEAD"
	StateBootstrap     State = "BOOTSTRAP"
	StateUpToDate      State = "UP_TO_DATE"
	StateFetchingDelta State = "FETCHING_DELTA"
	StateTransforming  State = "TRANSFORMING"
	StateCommitting    State = "COMMITTING"
	StateAborted       State = "ABORTED"
)

// ErrCycleInProgress is returned by Run when another cycle of the same
// Syncer has not finished.
var ErrCycleInProgress = errors.New("sync cycle already in progress")

// Failure records one entry that was attempted but not indexed.
type Failure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Summary counts what happened to the entries of a delta.
type Summary struct {
	// Attempted is the number of entries that passed the filter.
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	// Filtered entries were dropped by include/exclude globs before any
	// work was done. They are not part of Attempted.
	Filtered int       `json:"filtered"`
	Failures []Failure `json:"failures,omitempty"`
}

// Result describes one finished cycle.
type Result struct {
	CycleID string `json:"cycle_id"`
	// State is where the cycle ended: IDLE after a commit, BOOTSTRAP,
	// UP_TO_DATE or ABORTED.
	State       State         `json:"state"`
	Transitions []State       `json:"transitions"`
	From        string        `json:"from,omitempty"`
	To          string        `json:"to,omitempty"`
	Summary     Summary       `json:"summary"`
	Duration    time.Duration `json:"duration"`
}

// Advanced reports whether the cycle moved the pointer.
func (r Result) Advanced() bool {
	return r.To != "" && r.To != r.From && (r.State == StateIdle || r.State == StateBootstrap)
}

// AbortError is returned by Run when a cycle ends in ABORTED. State is the
// state the cycle was in when it failed.
type AbortError struct {
	State  State
	Reason string
	Err    error
}

func (e *AbortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync aborted in %s: %s: %v", e.State, e.Reason, e.Err)
	}
	return fmt.Sprintf("sync aborted in %s: %s", e.State, e.Reason)
}

func (e *AbortError) Unwrap() error { return e.Err }

// IsAbortError reports whether err wraps an *AbortError.
func IsAbortError(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
