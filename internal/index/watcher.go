package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/carta/internal/checksum"
	"github.com/starford/carta/internal/storage"
)

// Watcher event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change.
type EventCallback func(kind string, path string)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the workspace root and re-indexes
// files accepted by m until ctx is cancelled. It calls cb (if non-nil)
// after each successful index mutation.
//
// New directories created at runtime are added to the watch list unless
// m prunes them. Rename events trigger a debounced reconciliation pass
// that removes index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db CardIndex, store storage.Provider, m *storage.Matcher, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, store, root, m); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	notify := func(kind, rel string) {
		if cb != nil {
			cb(kind, rel)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, m, logger, notify)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := store.Rel(ev.Name)
			if relErr != nil || rel == "" {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if !m.Dir(rel) {
						continue
					}
					if addErr := addDirsRecursive(w, store, ev.Name, m); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					indexNewDir(db, store, m, ev.Name, logger, notify)
					continue
				}
			}

			if !m.File(rel) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				// The post-patch re-index may already have recorded this version.
				prev, _ := db.GetChecksum(rel)
				if prev == checksum.Sum(data) {
					continue
				}
				indexed, idxErr := IndexFile(db, rel, data)
				if idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				if !indexed {
					logger.Debug("watcher: skipped non-text file", slog.String("path", rel))
					continue
				}
				kind := EventUpdated
				if prev == "" {
					kind = EventCreated
				}
				logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				notify(kind, rel)

			case ev.Op&fsnotify.Remove != 0:
				if removeIndexed(db, rel, logger) {
					logger.Debug("watcher: deleted", slog.String("path", rel))
					notify(EventDeleted, rel)
				}

			case ev.Op&fsnotify.Rename != 0:
				// Rename fires on the old path only; the new path arrives as
				// a Create. The reconcile pass catches anything missed.
				if removeIndexed(db, rel, logger) {
					logger.Debug("watcher: renamed away", slog.String("path", rel))
					notify(EventDeleted, rel)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile removes index entries whose files are gone and indexes files
// that are missing or changed.
func reconcile(db CardIndex, store storage.Provider, m *storage.Matcher, logger *slog.Logger, notify EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	paths, err := store.Enumerate("", nil, nil)
	if err != nil {
		logger.Warn("reconcile: enumerate failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if m.File(p) {
			disk[p] = struct{}{}
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if delErr := db.DeleteFile(p); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("path", p))
				notify(EventDeleted, p)
			}
		}
	}

	for p := range disk {
		data, readErr := store.Read(p)
		if readErr != nil || checksums[p] == checksum.Sum(data) {
			continue
		}
		if indexed, idxErr := IndexFile(db, p, data); idxErr == nil && indexed {
			logger.Debug("reconcile: indexed", slog.String("path", p))
			notify(EventUpdated, p)
		}
	}
}

// removeIndexed deletes rel from the index and reports whether a row
// existed.
func removeIndexed(db CardIndex, rel string, logger *slog.Logger) bool {
	prev, err := db.GetChecksum(rel)
	if err != nil || prev == "" {
		return false
	}
	if err := db.DeleteFile(rel); err != nil {
		logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return false
	}
	return true
}

// indexNewDir indexes matching files found in a newly created directory.
func indexNewDir(db CardIndex, store storage.Provider, m *storage.Matcher, dirPath string, logger *slog.Logger, notify EventCallback) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := store.Rel(p)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if p != dirPath && !m.Dir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !m.File(rel) {
			return nil
		}
		data, readErr := store.Read(rel)
		if readErr != nil {
			return nil
		}
		if indexed, idxErr := IndexFile(db, rel, data); idxErr == nil && indexed {
			logger.Debug("watcher: indexed from new dir", slog.String("path", rel))
			notify(EventCreated, rel)
		}
		return nil
	})
}

// addDirsRecursive adds dir and every subdirectory m does not prune.
func addDirsRecursive(w *fsnotify.Watcher, store storage.Provider, dir string, m *storage.Matcher) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := store.Rel(p)
		if relErr != nil {
			return filepath.SkipDir
		}
		if rel != "" && !m.Dir(rel) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
