package index

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/carta/internal/models"
	"github.com/starford/carta/internal/parser"
	"github.com/starford/carta/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

const handlerTS = "/* @SFC\nname: handler\nrole: request entry point\n*/\nexport function handler() {}\n/* LLM-EDIT:BEGIN body */\nreturn 1;\n/* LLM-EDIT:END body */\n"

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"files", "cards", "blocks"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	e := parser.Entry("src/handler.ts", []byte(handlerTS))
	if err := db.UpsertFile(e); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	cs, err := db.GetChecksum("src/handler.ts")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != e.SHA256 {
		t.Errorf("checksum = %q, want %q", cs, e.SHA256)
	}

	missing, err := db.GetChecksum("nope.ts")
	if err != nil || missing != "" {
		t.Errorf("missing checksum = %q, %v", missing, err)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats != (Stats{Files: 1, Cards: 1, Blocks: 1}) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUpsertReplacesCardsAndBlocks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertFile(parser.Entry("a.ts", []byte(handlerTS)))
	if err := db.UpsertFile(parser.Entry("a.ts", []byte("export const x = 1;\n"))); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	stats, _ := db.Stats()
	if stats != (Stats{Files: 1}) {
		t.Errorf("stats after re-index = %+v", stats)
	}
}

func TestDeleteFileCascades(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertFile(parser.Entry("a.ts", []byte(handlerTS)))
	if err := db.DeleteFile("a.ts"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	stats, _ := db.Stats()
	if stats != (Stats{}) {
		t.Errorf("stats after delete = %+v", stats)
	}
}

func TestFindBlocks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertFile(parser.Entry("b.ts", []byte(handlerTS)))
	_ = db.UpsertFile(parser.Entry("a.ts", []byte(handlerTS)))

	rows, err := db.FindBlocks("body")
	if err != nil {
		t.Fatalf("FindBlocks: %v", err)
	}
	if len(rows) != 2 || rows[0].Path != "a.ts" || rows[1].Path != "b.ts" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Start != 7 || rows[0].End != 7 {
		t.Errorf("span = %d..%d, want 7..7", rows[0].Start, rows[0].End)
	}
}

func TestSearchCards(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertFile(parser.Entry("src/handler.ts", []byte(handlerTS)))
	_ = db.UpsertFile(parser.Entry("docs/README.md", []byte("---\n@DFC: docs\npurpose: documentation\n---\n")))

	results, err := db.Search("entry", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "src/handler.ts" || results[0].Kind != models.SingleFileCard {
		t.Fatalf("results = %+v", results)
	}

	results, _ = db.Search("documentation", 10)
	if len(results) != 1 || results[0].Kind != models.DirectoryFileCard {
		t.Errorf("dfc results = %+v", results)
	}
}

func TestSync(t *testing.T) {
	db := testDB(t)
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	root := store.Root()
	_ = os.WriteFile(filepath.Join(root, "a.ts"), []byte(handlerTS), 0o644)
	_ = os.WriteFile(filepath.Join(root, "bin.dat"), []byte{0xff, 0xfe, 0x00}, 0o644)
	_ = os.MkdirAll(filepath.Join(root, "node_modules"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "node_modules", "x.js"), []byte("x"), 0o644)
	_ = db.UpsertFile(parser.Entry("gone.ts", []byte("old")))

	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	all, _ := db.AllChecksums()
	if len(all) != 1 {
		t.Fatalf("indexed = %v, want only a.ts", all)
	}
	if _, ok := all["a.ts"]; !ok {
		t.Errorf("a.ts not indexed: %v", all)
	}
}

func TestIndexFileSkipsNonText(t *testing.T) {
	db := testDB(t)

	indexed, err := IndexFile(db, "blob.bin", []byte{0xff, 0xfe, 0x80})
	if err != nil || indexed {
		t.Errorf("non-text: indexed=%v err=%v, want false, nil", indexed, err)
	}
	if cs, _ := db.GetChecksum("blob.bin"); cs != "" {
		t.Error("non-text file should not be stored")
	}

	indexed, err = IndexFile(db, "a.ts", []byte(handlerTS))
	if err != nil || !indexed {
		t.Errorf("text: indexed=%v err=%v, want true, nil", indexed, err)
	}
}
