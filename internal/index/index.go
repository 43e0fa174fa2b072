package index

import "github.com/starford/carta/internal/models"

// CardIndex is the read/write surface of the card catalogue.
type CardIndex interface {
	UpsertFile(e models.FileEntry) error
	DeleteFile(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
	FindBlocks(blockID string) ([]BlockRow, error)
	Search(query string, limit int) ([]SearchResult, error)
	Stats() (Stats, error)
	Close() error
}

// Verify *DB satisfies CardIndex at compile time.
var _ CardIndex = (*DB)(nil)
