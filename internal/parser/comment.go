package parser

import (
	"regexp"
	"strings"
)

// commentStyle is the closed set of delimiter dialects a leading card may use.
type commentStyle int

const (
	styleNone        commentStyle = iota
	styleBlock                    // /* ... */
	styleMarkup                   // <!-- ... -->
	styleLineRun                  // consecutive // or # lines
	styleFrontMatter              // --- fenced YAML
)

var (
	lineCommentRe   = regexp.MustCompile(`^\s*(//|#)`)
	lineCommentCut  = regexp.MustCompile(`^\s*(//|#)\s?`)
	dashCommentRe   = regexp.MustCompile(`^\s*--\s`)
	dashCommentCut  = regexp.MustCompile(`^\s*--\s?`)
	blockOpenRe     = regexp.MustCompile(`^\s*/\*`)
	blockCloseRe    = regexp.MustCompile(`\*/\s*$`)
	blockOpenCut    = regexp.MustCompile(`^\s*/\*+\s?`)
	blockCloseCut   = regexp.MustCompile(`\s*\*+/\s*$`)
	markupOpenRe    = regexp.MustCompile(`^\s*<!--`)
	markupCloseRe   = regexp.MustCompile(`-->\s*$`)
	markupOpenCut   = regexp.MustCompile(`^\s*<!--\s?`)
	markupCloseCut  = regexp.MustCompile(`\s*-->\s*$`)
	continuationCut = regexp.MustCompile(`^\s*\*\s?`)
)

// classify determines the comment dialect opened by line.
func classify(line string) commentStyle {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "---":
		return styleFrontMatter
	case strings.HasPrefix(trimmed, "/*"):
		return styleBlock
	case strings.HasPrefix(trimmed, "<!--"):
		return styleMarkup
	case lineCommentRe.MatchString(line):
		return styleLineRun
	default:
		return styleNone
	}
}

func (s commentStyle) String() string {
	switch s {
	case styleBlock:
		return "block"
	case styleMarkup:
		return "markup"
	case styleLineRun:
		return "line-run"
	case styleFrontMatter:
		return "front-matter"
	default:
		return "none"
	}
}

// closes reports whether line terminates a comment of this style.
// A line-comment run terminates on the first line that is not a comment.
func (s commentStyle) closes(line string) bool {
	switch s {
	case styleBlock:
		return strings.Contains(line, "*/")
	case styleMarkup:
		return strings.Contains(line, "-->")
	case styleLineRun:
		return !lineCommentRe.MatchString(line)
	case styleFrontMatter:
		return strings.TrimSpace(line) == "---"
	default:
		return true
	}
}

// collect returns the index of the last line belonging to the comment that
// opens at lines[first]. Block and markup comments may close on their
// opening line and run to the end of input when unclosed. For front matter
// the closing fence index is returned, or len(lines) when there is none.
func (s commentStyle) collect(lines []string, first int) int {
	switch s {
	case styleBlock, styleMarkup:
		i := first
		for i < len(lines) && !s.closes(lines[i]) {
			i++
		}
		if i == len(lines) {
			return len(lines) - 1
		}
		return i
	case styleLineRun:
		i := first
		for i+1 < len(lines) && !s.closes(lines[i+1]) {
			i++
		}
		return i
	case styleFrontMatter:
		i := first + 1
		for i < len(lines) && !s.closes(lines[i]) {
			i++
		}
		return i
	default:
		return first
	}
}

// stripDelimiters removes comment syntax from the collected lines. The
// rules are applied uniformly whichever style opened the comment.
func stripDelimiters(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	first, last := raw[0], raw[len(raw)-1]

	out := make([]string, len(raw))
	for i, l := range raw {
		switch {
		case lineCommentRe.MatchString(l):
			out[i] = lineCommentCut.ReplaceAllString(l, "")
		case dashCommentRe.MatchString(l):
			out[i] = dashCommentCut.ReplaceAllString(l, "")
		default:
			out[i] = l
		}
	}

	n := len(out) - 1
	if blockOpenRe.MatchString(first) && blockCloseRe.MatchString(last) {
		out[0] = blockOpenCut.ReplaceAllString(out[0], "")
		out[n] = blockCloseCut.ReplaceAllString(out[n], "")
	}
	if markupOpenRe.MatchString(first) && markupCloseRe.MatchString(last) {
		out[0] = markupOpenCut.ReplaceAllString(out[0], "")
		out[n] = markupCloseCut.ReplaceAllString(out[n], "")
	}

	for i, l := range out {
		out[i] = continuationCut.ReplaceAllString(l, "")
	}
	return out
}
