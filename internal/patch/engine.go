// Package patch replaces the content of a single LLM-EDIT block under
// optimistic concurrency control.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/checksum"
	"github.com/starford/carta/internal/parser"
	"github.com/starford/carta/internal/storage"
)

// Request names the block to replace and the digest the caller last saw.
type Request struct {
	File       string `json:"file"`
	BlockID    string `json:"blockId"`
	OldHash    string `json:"oldHash"`
	NewContent string `json:"newContent"`
	Reason     string `json:"reason,omitempty"`
}

// Result describes a successful patch.
type Result struct {
	File    string `json:"file"`
	BlockID string `json:"blockId"`
	NewHash string `json:"newHash"`
	Diff    string `json:"diff"`
}

// Engine validates and applies block patches. It holds no locks: two
// callers validated against the same pre-image both write, last one wins.
type Engine struct {
	store    storage.Provider
	readOnly bool
	logger   *slog.Logger
}

// New creates a patch engine over store.
func New(store storage.Provider, readOnly bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, readOnly: readOnly, logger: logger}
}

// ReadOnly reports whether the engine rejects every patch.
func (e *Engine) ReadOnly() bool { return e.readOnly }

// Apply replaces the content of req.BlockID in req.File with req.NewContent
// if the block's current hash equals req.OldHash.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	if e.readOnly {
		return nil, apperr.New(apperr.KindReadOnly, "server is running in read-only mode", nil)
	}

	abs, err := e.store.Resolve(req.File)
	if err != nil {
		return nil, err
	}
	rel, err := e.store.Rel(abs)
	if err != nil {
		return nil, err
	}

	raw, err := e.store.Read(rel)
	if err != nil {
		return nil, err
	}
	original := string(raw)
	newline := "\n"
	if strings.Contains(original, "\r\n") {
		newline = "\r\n"
	}

	block, ok := parser.Parse(original).Block(req.BlockID)
	if !ok {
		return nil, apperr.New(apperr.KindBlockNotFound,
			fmt.Sprintf("block %s not found in %s", req.BlockID, rel),
			map[string]any{"file": rel, "blockId": req.BlockID})
	}

	if current := checksum.Block(block.Content); current != req.OldHash {
		return nil, apperr.New(apperr.KindStaleBlock,
			fmt.Sprintf("existing block hash mismatch for %s", req.BlockID),
			map[string]any{"expected": req.OldHash, "actual": current})
	}

	if parser.ContainsMarker(req.NewContent) {
		return nil, apperr.New(apperr.KindOutOfBoundWrite,
			"new content must not contain LLM-EDIT boundary markers",
			map[string]any{"blockId": req.BlockID})
	}

	content := checksum.NormalizeNewlines(req.NewContent)
	updated := splice(checksum.NormalizeNewlines(original), block.BeginLine, block.EndMarkerLine, content)
	if newline != "\n" {
		updated = strings.ReplaceAll(updated, "\n", newline)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.Write(rel, []byte(updated)); err != nil {
		return nil, err
	}

	diff, err := unifiedDiff(rel, original, updated)
	if err != nil {
		return nil, apperr.Internal(err, "patch: diff")
	}
	newHash := checksum.Block(content)

	e.logger.Info("block patched",
		slog.String("file", rel),
		slog.String("block_id", req.BlockID),
		slog.String("new_hash", newHash),
		slog.String("reason", req.Reason),
	)

	return &Result{File: rel, BlockID: req.BlockID, NewHash: newHash, Diff: diff}, nil
}

// splice keeps lines up to and including the BEGIN marker, inserts content
// and keeps lines from the END marker on. Marker lines are 1-indexed against
// the normalized text. A leading byte-order mark stays on line 1.
func splice(normalized string, beginLine, endMarkerLine int, content string) string {
	lines := strings.Split(normalized, "\n")
	var inserted []string
	if content != "" {
		inserted = strings.Split(content, "\n")
	}
	out := make([]string, 0, beginLine+len(inserted)+len(lines)-endMarkerLine+1)
	out = append(out, lines[:beginLine]...)
	out = append(out, inserted...)
	out = append(out, lines[endMarkerLine-1:]...)
	return strings.Join(out, "\n")
}

func unifiedDiff(path, before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
}
