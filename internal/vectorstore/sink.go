package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/changesource"
	"github.com/fyrsmithlabs/commitdelta/internal/delta"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates a collection name failed validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConnectionFailed indicates the store could not be reached.
	ErrConnectionFailed = errors.New("connection failed")
)

// Match is one similarity query result.
type Match struct {
	ID       string
	Text     string
	Score    float32
	Metadata delta.Metadata
}

// Sink is a vector index that stores units by id.
type Sink interface {
	// Upsert inserts unit or replaces the record with the same id.
	Upsert(ctx context.Context, unit delta.Unit) error

	// Query returns at most topK records ordered by descending similarity.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	Close() error
}

// SchemaError is a unit that does not fit the index schema.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation on %s: %s", e.Field, e.Reason)
}

// SinkError is a failed store operation.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("vectorstore %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsSchemaError reports whether err is a *SchemaError.
func IsSchemaError(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

// ValidateUnit checks unit against the index schema. dimension <= 0 skips
// the vector length check.
func ValidateUnit(unit delta.Unit, dimension int) error {
	m := unit.Metadata
	switch {
	case unit.ID == "":
		return &SchemaError{Field: "id", Reason: "must not be empty"}
	case m.Filename == "":
		return &SchemaError{Field: delta.KeyFilename, Reason: "must not be empty"}
	case m.RevisionID == "":
		return &SchemaError{Field: delta.KeyRevisionID, Reason: "must not be empty"}
	case unit.ID != delta.UnitID(m.RevisionID, m.Filename):
		return &SchemaError{Field: "id", Reason: fmt.Sprintf("%q does not match revision_id and filename", unit.ID)}
	case !changesource.Status(m.Status).Valid():
		return &SchemaError{Field: delta.KeyStatus, Reason: fmt.Sprintf("unknown status %q", m.Status)}
	case m.Additions < 0:
		return &SchemaError{Field: delta.KeyAdditions, Reason: "must not be negative"}
	case m.Deletions < 0:
		return &SchemaError{Field: delta.KeyDeletions, Reason: "must not be negative"}
	}
	if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
		return &SchemaError{Field: delta.KeyTimestamp, Reason: fmt.Sprintf("not RFC 3339: %q", m.Timestamp)}
	}
	if len(unit.Vector) == 0 {
		return &SchemaError{Field: "content_vector", Reason: "must not be empty"}
	}
	if dimension > 0 && len(unit.Vector) != dimension {
		return &SchemaError{Field: "content_vector", Reason: fmt.Sprintf("length %d, want %d", len(unit.Vector), dimension)}
	}
	return nil
}

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects: uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateQuery(vector []float32, topK, dimension int) error {
	if topK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(vector) == 0 {
		return errors.New("query vector cannot be empty")
	}
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("query vector has length %d, want %d", len(vector), dimension)
	}
	return nil
}
