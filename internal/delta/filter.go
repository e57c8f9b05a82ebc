package delta

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects which changed files are indexed. Exclude patterns take
// precedence over include patterns; an empty include list admits every
// file. Patterns use doublestar syntax and match either the full
// slash-separated path or the base name.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter validates the patterns and returns a Filter.
func NewFilter(include, exclude []string) (*Filter, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return &Filter{include: include, exclude: exclude}, nil
}

// Allow reports whether filename should be indexed. A nil Filter allows
// everything.
func (f *Filter) Allow(filename string) bool {
	if f == nil {
		return true
	}
	name := strings.TrimPrefix(filename, "/")
	if matchesAny(name, f.exclude) {
		return false
	}
	return len(f.include) == 0 || matchesAny(name, f.include)
}

func matchesAny(name string, patterns []string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
