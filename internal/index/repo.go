package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/carta/internal/models"
)

// SearchResult represents one search hit over card payloads.
type SearchResult struct {
	Path    string          `json:"path"`
	Kind    models.CardKind `json:"kind"`
	Snippet string          `json:"snippet"`
}

// BlockRow locates an indexed edit block.
type BlockRow struct {
	Path    string `json:"path"`
	BlockID string `json:"blockId"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Hash    string `json:"hash"`
}

// Stats counts indexed rows.
type Stats struct {
	Files  int `json:"files"`
	Cards  int `json:"cards"`
	Blocks int `json:"blocks"`
}

// UpsertFile replaces everything indexed for e.Path within a transaction.
func (db *DB) UpsertFile(e models.FileEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO files (path, sha256, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			sha256     = excluded.sha256,
			updated_at = excluded.updated_at
	`, e.Path, e.SHA256, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: upsert file: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM cards WHERE path = ?`, e.Path); err != nil {
		return fmt.Errorf("index: clear cards: %w", err)
	}
	if err := ftsDelete(tx, e.Path); err != nil {
		return err
	}
	for _, c := range []models.Card{e.SFC, e.DFC} {
		if !c.Exists {
			continue
		}
		_, err := tx.Exec(`INSERT INTO cards (path, kind, yaml, start_line, end_line) VALUES (?, ?, ?, ?, ?)`,
			e.Path, string(c.Kind), c.YAML, c.Start, c.End)
		if err != nil {
			return fmt.Errorf("index: insert card: %w", err)
		}
		if err := ftsUpsert(tx, e.Path, string(c.Kind), c.YAML); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM blocks WHERE path = ?`, e.Path); err != nil {
		return fmt.Errorf("index: clear blocks: %w", err)
	}
	if len(e.EditBlocks) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO blocks (path, seq, block_id, start_line, end_line, hash) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare block insert: %w", err)
		}
		defer stmt.Close()
		for i, b := range e.EditBlocks {
			if _, err := stmt.Exec(e.Path, i, b.BlockID, b.Start, b.End, b.Hash); err != nil {
				return fmt.Errorf("index: insert block: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteFile removes a file with its cards, blocks and FTS rows.
func (db *DB) DeleteFile(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete file: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored digest for a file, or "" if not indexed.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT sha256 FROM files WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path -> sha256 for every indexed file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, sha256 FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// FindBlocks returns every indexed block named blockID, ordered by path.
func (db *DB) FindBlocks(blockID string) ([]BlockRow, error) {
	rows, err := db.conn.Query(`
		SELECT path, block_id, start_line, end_line, hash
		FROM blocks
		WHERE block_id = ?
		ORDER BY path, seq
	`, blockID)
	if err != nil {
		return nil, fmt.Errorf("index: find blocks: %w", err)
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var b BlockRow
		if err := rows.Scan(&b.Path, &b.BlockID, &b.Start, &b.End, &b.Hash); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Stats returns row counts.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT (SELECT count(*) FROM files),
		       (SELECT count(*) FROM cards),
		       (SELECT count(*) FROM blocks)
	`).Scan(&s.Files, &s.Cards, &s.Blocks)
	if err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}
	return s, nil
}
