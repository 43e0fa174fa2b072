// Package audit records which file versions a caller has read.
//
// A Sink is opened once when the server starts and closed on shutdown;
// nothing in this package holds process-wide state.
package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/models"
)

// Mode selects the audit backend.
type Mode string

// Supported modes.
const (
	ModeJSONL  Mode = "jsonl"
	ModeSQLite Mode = "sqlite"
	ModeNone   Mode = "none"
)

// DefaultDir is the log directory relative to the workspace root.
const DefaultDir = ".carta/logs"

const (
	jsonlFile  = "readlog.jsonl"
	sqliteFile = "readlog.sqlite"
)

// Sink appends read records to durable storage.
type Sink interface {
	Append(ctx context.Context, rec models.ReadRecord) error
	Close() error
}

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeJSONL, ModeSQLite, ModeNone:
		return m, nil
	case "":
		return ModeJSONL, nil
	default:
		return "", apperr.New(apperr.KindUnsupportedMode,
			fmt.Sprintf("unsupported audit mode: %s", s),
			map[string]any{"mode": s})
	}
}

// Open constructs the sink for mode. dir is resolved against root when
// relative. ModeNone never touches the file system.
func Open(mode Mode, root, dir string) (Sink, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	switch mode {
	case ModeNone:
		return Discard{}, nil
	case ModeJSONL:
		return NewJSONL(filepath.Join(dir, jsonlFile)), nil
	case ModeSQLite:
		db, err := OpenSQLite(filepath.Join(dir, sqliteFile))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, apperr.New(apperr.KindUnsupportedMode,
			fmt.Sprintf("unsupported audit mode: %s", mode),
			map[string]any{"mode": string(mode)})
	}
}

// NewRecord builds a record stamped with a fresh id and the UTC time.
func NewRecord(runID, path, sha256 string, now time.Time) models.ReadRecord {
	return models.ReadRecord{
		ID:     uuid.NewString(),
		TS:     now.UTC().Format(time.RFC3339Nano),
		RunID:  runID,
		Path:   path,
		SHA256: sha256,
	}
}

// Discard is the disabled sink.
type Discard struct{}

// Append does nothing.
func (Discard) Append(context.Context, models.ReadRecord) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }
