// Package index keeps a SQLite catalogue of cards and edit blocks with
// optional FTS5 search over card payloads.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	sha256     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cards (
	path       TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	yaml       TEXT NOT NULL DEFAULT '',
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	PRIMARY KEY (path, kind)
);

CREATE TABLE IF NOT EXISTS blocks (
	path       TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	block_id   TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	hash       TEXT NOT NULL,
	PRIMARY KEY (path, seq)
);

CREATE INDEX IF NOT EXISTS idx_blocks_id ON blocks(block_id);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
