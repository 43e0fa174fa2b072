package storage

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/carta/internal/apperr"
)

// Matcher decides which slash-separated relative paths a walk visits.
// DefaultExcludes always apply, and hidden entries are never matched.
type Matcher struct {
	include []string
	exclude []string
}

// NewMatcher validates the doublestar patterns. An empty include list
// means "**/*".
func NewMatcher(include, exclude []string) (*Matcher, error) {
	if len(include) == 0 {
		include = []string{"**/*"}
	}
	m := &Matcher{
		include: append([]string{}, include...),
		exclude: append(append([]string{}, DefaultExcludes...), exclude...),
	}
	for _, p := range append(append([]string{}, m.include...), m.exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, apperr.Newf(apperr.KindInvalidParams, "invalid glob pattern: %s", p)
		}
	}
	return m, nil
}

// File reports whether the file at rel is selected.
func (m *Matcher) File(rel string) bool {
	if hidden(rel) {
		return false
	}
	return matchAny(m.include, rel) && !matchAny(m.exclude, rel)
}

// Dir reports whether a walk should descend into rel. A directory is
// pruned when it is hidden or a "<dir>/**" exclude pattern covers it.
func (m *Matcher) Dir(rel string) bool {
	if rel == "" || rel == "." {
		return true
	}
	if hidden(rel) {
		return false
	}
	for _, p := range m.exclude {
		dirPattern, ok := strings.CutSuffix(p, "/**")
		if !ok {
			continue
		}
		if ok, _ := doublestar.Match(dirPattern, rel); ok {
			return false
		}
	}
	return true
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, rel string) bool {
	rel = path.Clean(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
