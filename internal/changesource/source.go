// Package changesource adapts revision-hosting backends to the three
// read-only operations the sync pipeline needs: resolve the head of a
// branch, diff two revisions file by file, and fetch revision metadata.
//
// Every operation reports failure as absence (ok == false). Retries, backoff
// and timeouts happen inside the source; the cause is logged as a
// *TransientRemoteError and never reaches the caller.
package changesource

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UnknownAuthor is used when a revision carries no author name.
const UnknownAuthor = "Unknown"

// Status is the kind of change applied to a file.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusRemoved  Status = "removed"
	StatusRenamed  Status = "renamed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAdded, StatusModified, StatusRemoved, StatusRenamed:
		return true
	}
	return false
}

// ParseStatus maps a remote file status onto Status. GitHub also reports
// "copied", "changed" and "unchanged"; a copy creates a file and the other
// two are content or mode changes.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added", "copied":
		return StatusAdded, nil
	case "modified", "changed", "unchanged":
		return StatusModified, nil
	case "removed", "deleted":
		return StatusRemoved, nil
	case "renamed":
		return StatusRenamed, nil
	}
	return "", fmt.Errorf("unknown file status %q", s)
}

// ChangedEntry is one file-level change within a delta.
type ChangedEntry struct {
	Filename         string
	PreviousFilename string // set for renames
	Status           Status
	Additions        int
	Deletions        int
	Patch            string // empty for binary files and some removals
	Content          string // full file body at head, content mode only
}

// RevisionMetadata describes the head revision of a delta.
type RevisionMetadata struct {
	Revision   string
	Message    string
	Author     string
	AuthoredAt time.Time
}

// Source is a read-only view of a revision-hosting backend.
type Source interface {
	// ResolveHead returns the latest revision on branch.
	ResolveHead(ctx context.Context, branch string) (string, bool)

	// Diff returns the file-level changes between base and head.
	Diff(ctx context.Context, base, head string) ([]ChangedEntry, bool)

	// Metadata returns message and author of revision.
	Metadata(ctx context.Context, revision string) (RevisionMetadata, bool)
}

// TransientRemoteError records why a remote operation degraded to absent.
type TransientRemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientRemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }
