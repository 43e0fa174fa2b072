package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/models"
)

// JSONL appends one JSON object per line to a log file. The file and its
// directory are created on the first Append.
type JSONL struct {
	path string
	mu   sync.Mutex
}

// NewJSONL returns a sink writing to path.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

// Path returns the log file location.
func (j *JSONL) Path() string { return j.path }

// Append writes rec as a single line.
func (j *JSONL) Append(_ context.Context, rec models.ReadRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return apperr.Internal(err, "audit: encode record")
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return apperr.Internal(err, "audit: create log dir")
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Internal(err, "audit: open log")
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return apperr.Internal(err, "audit: append")
	}
	return nil
}

// Close is a no-op; the file is opened per append.
func (j *JSONL) Close() error { return nil }
