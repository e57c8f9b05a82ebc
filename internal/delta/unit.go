// Package delta renders file-level changes into indexable units.
//
// Transform is pure: the same entry and metadata always produce the same
// unit, byte for byte. Rendering, id construction and metadata never read
// the clock or any other ambient state, so re-running a cycle over the same
// revision overwrites the same records in the index.
package delta

import (
	"strconv"
	"time"
)

// Metadata keys stored alongside every vector.
const (
	KeyFilename      = "filename"
	KeyRevisionID    = "revision_id"
	KeyStatus        = "status"
	KeyAdditions     = "additions"
	KeyDeletions     = "deletions"
	KeyTimestamp     = "timestamp"
	KeyAuthor        = "author"
	KeyCommitMessage = "commit_message"
)

// MetadataKeys lists every key Metadata.Map produces, in schema order.
var MetadataKeys = []string{
	KeyFilename, KeyRevisionID, KeyStatus, KeyAdditions,
	KeyDeletions, KeyTimestamp, KeyAuthor, KeyCommitMessage,
}

// Metadata is the structured part of a Unit.
type Metadata struct {
	Filename      string
	RevisionID    string
	Status        string
	Additions     int
	Deletions     int
	Timestamp     string // RFC 3339, UTC
	Author        string
	CommitMessage string
}

// Map returns the metadata keyed by the schema field names.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		KeyFilename:      m.Filename,
		KeyRevisionID:    m.RevisionID,
		KeyStatus:        m.Status,
		KeyAdditions:     m.Additions,
		KeyDeletions:     m.Deletions,
		KeyTimestamp:     m.Timestamp,
		KeyAuthor:        m.Author,
		KeyCommitMessage: m.CommitMessage,
	}
}

// StringMap returns the metadata with every value formatted as a string,
// for stores that only accept string metadata.
func (m Metadata) StringMap() map[string]string {
	return map[string]string{
		KeyFilename:      m.Filename,
		KeyRevisionID:    m.RevisionID,
		KeyStatus:        m.Status,
		KeyAdditions:     strconv.Itoa(m.Additions),
		KeyDeletions:     strconv.Itoa(m.Deletions),
		KeyTimestamp:     m.Timestamp,
		KeyAuthor:        m.Author,
		KeyCommitMessage: m.CommitMessage,
	}
}

// MetadataFromStrings is the inverse of StringMap. Malformed counts read
// as -1 so schema validation rejects them.
func MetadataFromStrings(s map[string]string) Metadata {
	return Metadata{
		Filename:      s[KeyFilename],
		RevisionID:    s[KeyRevisionID],
		Status:        s[KeyStatus],
		Additions:     atoiOr(s[KeyAdditions], -1),
		Deletions:     atoiOr(s[KeyDeletions], -1),
		Timestamp:     s[KeyTimestamp],
		Author:        s[KeyAuthor],
		CommitMessage: s[KeyCommitMessage],
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Unit is one indexable record: a rendered file change plus its embedding.
type Unit struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata Metadata
}

// UnitID returns the stable id of the change to filename at revision.
func UnitID(revision, filename string) string {
	return revision + "_" + filename
}

// FormatTimestamp renders t as RFC 3339 in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
