package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/models"
)

const readsSchemaSQL = `
CREATE TABLE IF NOT EXISTS reads (
	id     TEXT PRIMARY KEY,
	ts     TEXT NOT NULL,
	runId  TEXT NOT NULL,
	path   TEXT NOT NULL,
	sha256 TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reads_run ON reads(runId);
`

// SQLite stores read records in a `reads` table.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if _, err := conn.Exec(readsSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Append inserts rec.
func (s *SQLite) Append(ctx context.Context, rec models.ReadRecord) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO reads (id, ts, runId, path, sha256) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.TS, rec.RunID, rec.Path, rec.SHA256)
	if err != nil {
		return apperr.Internal(err, "audit: insert read")
	}
	return nil
}

// Records returns every record for runID in insertion order.
func (s *SQLite) Records(ctx context.Context, runID string) ([]models.ReadRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, ts, runId, path, sha256 FROM reads WHERE runId = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: query reads: %w", err)
	}
	defer rows.Close()

	var out []models.ReadRecord
	for rows.Next() {
		var r models.ReadRecord
		if err := rows.Scan(&r.ID, &r.TS, &r.RunID, &r.Path, &r.SHA256); err != nil {
			return nil, fmt.Errorf("audit: scan read: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
