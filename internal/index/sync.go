package index

import (
	"log/slog"
	"unicode/utf8"

	"github.com/starford/carta/internal/checksum"
	"github.com/starford/carta/internal/parser"
	"github.com/starford/carta/internal/storage"
)

// Sync walks the workspace and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files no longer enumerated are deleted from the index
func Sync(db CardIndex, store storage.Provider, logger *slog.Logger) error {
	paths, err := store.Enumerate("", nil, nil)
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		data, err := store.Read(p)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if !utf8.Valid(data) {
			continue
		}
		disk[p] = struct{}{}

		if checksums[p] == checksum.Sum(data) {
			continue
		}
		if _, err := IndexFile(db, p, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", p))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteFile(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses data and upserts it. Non-UTF-8 content is skipped and
// reported as not indexed.
func IndexFile(db CardIndex, path string, data []byte) (bool, error) {
	if !utf8.Valid(data) {
		return false, nil
	}
	if err := db.UpsertFile(parser.Entry(path, data)); err != nil {
		return false, err
	}
	return true, nil
}
