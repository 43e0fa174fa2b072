package parser

import (
	"regexp"
	"strings"

	"github.com/starford/carta/internal/models"
)

var (
	// editMarkerRe captures the BEGIN/END discriminator and the block id,
	// the first run of characters that are neither whitespace nor '*'.
	editMarkerRe = regexp.MustCompile(`LLM-EDIT:(BEGIN|END)\s+([^\s*]+)`)

	markerSyntaxRe = regexp.MustCompile(`LLM-EDIT:(BEGIN|END)`)
)

// ContainsMarker reports whether s contains LLM-EDIT boundary syntax.
func ContainsMarker(s string) bool {
	return markerSyntaxRe.MatchString(s)
}

type markerKind int

const (
	markerBegin markerKind = iota
	markerEnd
)

type blockState int

const (
	blockClosed blockState = iota
	blockOpen
)

// blockTracker is the per-id state machine driven by one pass over a file:
//
//	closed --BEGIN--> open
//	open   --BEGIN--> open    (the later BEGIN replaces the earlier one)
//	open   --END----> closed  (block emitted)
//	closed --END----> closed  (orphan END ignored)
//
// Ids still open at end of input never emit.
type blockTracker struct {
	open map[string]int // id -> BEGIN line of the open reference
}

func newBlockTracker() *blockTracker {
	return &blockTracker{open: make(map[string]int)}
}

func (t *blockTracker) state(id string) blockState {
	if _, ok := t.open[id]; ok {
		return blockOpen
	}
	return blockClosed
}

// step applies one marker and returns the BEGIN line of the block to emit,
// if the transition closes one.
func (t *blockTracker) step(kind markerKind, id string, line int) (beginLine int, emit bool) {
	switch kind {
	case markerBegin:
		// NOTE: re-opening discards the earlier BEGIN; the lines between the
		// two BEGINs are never reported. Kept as observed behaviour pending
		// product review.
		t.open[id] = line
		return 0, false
	case markerEnd:
		if t.state(id) == blockClosed {
			return 0, false
		}
		beginLine = t.open[id]
		delete(t.open, id)
		return beginLine, true
	}
	return 0, false
}

func extractEditBlocks(lines []string) []models.EditBlock {
	var blocks []models.EditBlock
	tracker := newBlockTracker()

	for idx, raw := range lines {
		m := editMarkerRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		lineNo := idx + 1
		kind := markerBegin
		if m[1] == "END" {
			kind = markerEnd
		}
		id := strings.TrimSpace(m[2])

		begin, emit := tracker.step(kind, id, lineNo)
		if !emit {
			continue
		}

		start, end := begin+1, lineNo-1
		content := ""
		if start <= end {
			content = strings.Join(lines[start-1:end], "\n")
		}
		blocks = append(blocks, models.EditBlock{
			ID:            id,
			BeginLine:     begin,
			EndMarkerLine: lineNo,
			Start:         start,
			End:           end,
			Content:       content,
		})
	}
	return blocks
}
