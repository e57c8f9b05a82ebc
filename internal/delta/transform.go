package delta

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/commitdelta/internal/changesource"
	"github.com/fyrsmithlabs/commitdelta/internal/secrets"
)

// Transform renders entry as a Unit with no vector. Sections appear in a
// fixed order; Previous and Content are emitted only when present.
func Transform(entry changesource.ChangedEntry, meta changesource.RevisionMetadata) Unit {
	var b strings.Builder
	b.WriteString("File: ")
	b.WriteString(entry.Filename)
	b.WriteString("\nStatus: ")
	b.WriteString(string(entry.Status))
	b.WriteString("\nChanges: +")
	b.WriteString(strconv.Itoa(entry.Additions))
	b.WriteString(" -")
	b.WriteString(strconv.Itoa(entry.Deletions))
	b.WriteByte('\n')
	if entry.Status == changesource.StatusRenamed && entry.PreviousFilename != "" {
		b.WriteString("Previous: ")
		b.WriteString(entry.PreviousFilename)
		b.WriteByte('\n')
	}
	b.WriteString("Patch:\n")
	b.WriteString(entry.Patch)
	b.WriteByte('\n')
	if entry.Content != "" {
		b.WriteString("Content:\n")
		b.WriteString(entry.Content)
		b.WriteByte('\n')
	}
	b.WriteString("Commit Message: ")
	b.WriteString(meta.Message)

	author := meta.Author
	if author == "" {
		author = changesource.UnknownAuthor
	}

	return Unit{
		ID:   UnitID(meta.Revision, entry.Filename),
		Text: b.String(),
		Metadata: Metadata{
			Filename:      entry.Filename,
			RevisionID:    meta.Revision,
			Status:        string(entry.Status),
			Additions:     entry.Additions,
			Deletions:     entry.Deletions,
			Timestamp:     FormatTimestamp(meta.AuthoredAt),
			Author:        author,
			CommitMessage: meta.Message,
		},
	}
}

// Report describes what a Transformer changed before rendering.
type Report struct {
	Truncated  bool
	Redactions int
}

// Transformer prepares entries before Transform: secrets are scrubbed from
// the patch and content, then the patch is capped at MaxPatchBytes.
type Transformer struct {
	maxPatchBytes int
	scrubber      *secrets.Scrubber
}

// NewTransformer returns a Transformer. maxPatchBytes <= 0 disables the cap;
// a nil scrubber disables scrubbing.
func NewTransformer(maxPatchBytes int, scrubber *secrets.Scrubber) *Transformer {
	return &Transformer{maxPatchBytes: maxPatchBytes, scrubber: scrubber}
}

// Transform prepares entry and renders it.
func (t *Transformer) Transform(entry changesource.ChangedEntry, meta changesource.RevisionMetadata) (Unit, Report) {
	var rep Report
	if t.scrubber != nil {
		p := t.scrubber.Scrub(entry.Patch)
		c := t.scrubber.Scrub(entry.Content)
		entry.Patch, entry.Content = p.Scrubbed, c.Scrubbed
		rep.Redactions = p.Total + c.Total
	}
	entry.Patch, rep.Truncated = Truncate(entry.Patch, t.maxPatchBytes)
	return Transform(entry, meta), rep
}

// Truncate cuts s to at most max bytes on a rune boundary and appends a
// marker with the number of bytes dropped. max <= 0 returns s unchanged.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n[truncated %d bytes]", len(s)-cut), true
}
