package cardservice

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/audit"
	"github.com/starford/carta/internal/checksum"
	"github.com/starford/carta/internal/generator"
	"github.com/starford/carta/internal/index"
	"github.com/starford/carta/internal/models"
	"github.com/starford/carta/internal/parser"
	"github.com/starford/carta/internal/patch"
	"github.com/starford/carta/internal/sse"
	"github.com/starford/carta/internal/storage"
	"github.com/starford/carta/internal/testutil"
)

const handlerTS = "/* @SFC\nname: handler\nrole: request entry point\n*/\nexport function handler() {}\n/* LLM-EDIT:BEGIN body */\nreturn 1;\n/* LLM-EDIT:END body */\n"

const readmeMD = "---\n@DFC: docs\npurpose: guides\n---\n# Docs\n"

type recorder struct {
	mu      sync.Mutex
	patches []sse.BlockPatch
	files   []string
}

func (r *recorder) PublishPatch(p sse.BlockPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
}

func (r *recorder) PublishFileEvent(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, kind+":"+path)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, files map[string]string, readOnly bool, opts ...Option) (*Service, *storage.FS) {
	t.Helper()
	_, store := testutil.TestWorkspace(t, files)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(store, patch.New(store, readOnly, quietLogger()), audit.Discard{}, opts...), store
}

func TestScan(t *testing.T) {
	svc, _ := newService(t, map[string]string{
		"src/handler.ts":      handlerTS,
		"docs/README.md":      readmeMD,
		"node_modules/x/a.js": "export const a = 1;\n",
		"blob.bin":            "\xff\xfe\x00",
	}, false)

	res, err := svc.Scan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	assert.Equal(t, "docs/README.md", res.Files[0].Path)
	assert.True(t, res.Files[0].DFC.Exists)
	assert.False(t, res.Files[0].SFC.Exists)

	h := res.Files[1]
	assert.Equal(t, "src/handler.ts", h.Path)
	assert.True(t, h.SFC.Exists)
	assert.Equal(t, "name: handler\nrole: request entry point", h.SFC.YAML)
	assert.Equal(t, checksum.Sum([]byte(handlerTS)), h.SHA256)
	require.Len(t, h.EditBlocks, 1)
	assert.Equal(t, models.BlockInfo{BlockID: "body", Start: 7, End: 7, Hash: checksum.Block("return 1;")}, h.EditBlocks[0])

	assert.Nil(t, res.Generated)
	assert.Empty(t, res.Suggestions)
}

func TestScanIncludeAndRoot(t *testing.T) {
	svc, _ := newService(t, map[string]string{
		"src/handler.ts": handlerTS,
		"src/util.js":    "export const x = 1;\n",
		"docs/README.md": readmeMD,
	}, false)

	res, err := svc.Scan(context.Background(), ScanRequest{Root: "src", Include: []string{"**/*.ts"}})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "src/handler.ts", res.Files[0].Path)
}

func TestScanPathEscape(t *testing.T) {
	svc, _ := newService(t, nil, false)
	_, err := svc.Scan(context.Background(), ScanRequest{Root: "../.."})
	assert.True(t, errors.Is(err, apperr.ErrPathEscape))
}

func TestScanAutoGenerate(t *testing.T) {
	svc, store := newService(t, map[string]string{
		"src/handler.ts":      handlerTS,
		"src/services/api.ts": "export function load() { return 1; }\n",
		"docs/README.md":      readmeMD,
	}, false)

	res, err := svc.Scan(context.Background(), ScanRequest{
		AutoGenerate: true,
		Generate:     &generator.Options{Template: generator.TemplateMinimal, InferFromPath: true, DryRun: false},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Generated)
	assert.True(t, res.Generated.DryRun)

	kinds := map[string]models.CardKind{}
	for _, s := range res.Suggestions {
		kinds[s.Path] = s.Kind
	}
	assert.Equal(t, map[string]models.CardKind{
		"src/services/api.ts": models.SingleFileCard,
		"src":                 models.DirectoryFileCard,
		"src/services":        models.DirectoryFileCard,
	}, kinds)
	assert.Equal(t, 3, res.Generated.Count)
	assert.ElementsMatch(t, []string{"src/handler.ts", "src/services/api.ts"}, res.Generated.Files)

	byPath := map[string]models.FileEntry{}
	for _, e := range res.Files {
		byPath[e.Path] = e
	}
	assert.Nil(t, byPath["docs/README.md"].Generated)
	assert.Equal(t, &models.GeneratedCards{DFC: true}, byPath["src/handler.ts"].Generated)
	assert.Equal(t, &models.GeneratedCards{SFC: true, DFC: true}, byPath["src/services/api.ts"].Generated)

	// Nothing is written back.
	data, err := store.Read("src/services/api.ts")
	require.NoError(t, err)
	assert.Equal(t, "export function load() { return 1; }\n", string(data))
}

func TestScanRejectsUnknownTemplate(t *testing.T) {
	svc, _ := newService(t, nil, false)
	_, err := svc.Scan(context.Background(), ScanRequest{
		AutoGenerate: true,
		Generate:     &generator.Options{Template: "fancy"},
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidParams))
}

func TestGetCard(t *testing.T) {
	svc, _ := newService(t, map[string]string{
		"src/handler.ts": handlerTS,
		"docs/README.md": readmeMD,
	}, false)

	got, err := svc.GetCard(context.Background(), "src/handler.ts")
	require.NoError(t, err)
	assert.Equal(t, "src/handler.ts", got.Path)
	assert.Equal(t, checksum.Sum([]byte(handlerTS)), got.SHA256)
	require.NotNil(t, got.SFC)
	assert.Equal(t, models.CardDetail{YAML: "name: handler\nrole: request entry point", Start: 2, End: 3}, *got.SFC)
	assert.Nil(t, got.DFC)
	assert.Equal(t, map[string]any{"name": "handler", "role": "request entry point"}, got.Fields[models.SingleFileCard])

	doc, err := svc.GetCard(context.Background(), "docs/README.md")
	require.NoError(t, err)
	require.NotNil(t, doc.DFC)
	assert.Equal(t, map[string]any{"DFC": "docs", "purpose": "guides"}, doc.Fields[models.DirectoryFileCard])
}

func TestGetCardOmitsUnparsableFields(t *testing.T) {
	svc, _ := newService(t, map[string]string{"a.py": "# @SFC\n# : : bad [\nprint()\n"}, false)
	got, err := svc.GetCard(context.Background(), "a.py")
	require.NoError(t, err)
	require.NotNil(t, got.SFC)
	assert.Nil(t, got.Fields)
}

func TestGetCardErrors(t *testing.T) {
	svc, _ := newService(t, nil, false)

	_, err := svc.GetCard(context.Background(), "missing.ts")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = svc.GetCard(context.Background(), "../secret")
	assert.True(t, errors.Is(err, apperr.ErrPathEscape))
}

func TestApplyPatchReindexesAndPublishes(t *testing.T) {
	db := testutil.TestDB(t)
	rec := &recorder{}
	svc, store := newService(t, map[string]string{"src/handler.ts": handlerTS}, false,
		WithIndex(db), WithPublisher(rec))
	require.NoError(t, index.Sync(db, store, quietLogger()))

	res, err := svc.ApplyPatch(context.Background(), patch.Request{
		File:       "src/handler.ts",
		BlockID:    "body",
		OldHash:    checksum.Block("return 1;"),
		NewContent: "const v = 2;\nreturn v;",
	})
	require.NoError(t, err)

	rows, err := db.FindBlocks("body")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.NewHash, rows[0].Hash)
	assert.Equal(t, 8, rows[0].End)

	data, err := store.Read("src/handler.ts")
	require.NoError(t, err)
	sum, err := db.GetChecksum("src/handler.ts")
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum(data), sum)

	assert.Equal(t, []sse.BlockPatch{{File: "src/handler.ts", BlockID: "body", NewHash: res.NewHash}}, rec.patches)
	assert.Equal(t, []string{"updated:src/handler.ts"}, rec.files)
}

func TestApplyPatchFailureDoesNotPublish(t *testing.T) {
	rec := &recorder{}
	svc, _ := newService(t, map[string]string{"src/handler.ts": handlerTS}, true, WithPublisher(rec))

	_, err := svc.ApplyPatch(context.Background(), patch.Request{
		File: "src/handler.ts", BlockID: "body", OldHash: checksum.Block("return 1;"), NewContent: "x",
	})
	assert.True(t, errors.Is(err, apperr.ErrReadOnly))
	assert.True(t, svc.ReadOnly())
	assert.Empty(t, rec.patches)
	assert.Empty(t, rec.files)
}

func TestAppendReadLog(t *testing.T) {
	_, store := testutil.TestWorkspace(t, map[string]string{"src/handler.ts": handlerTS})
	sink, err := audit.Open(audit.ModeJSONL, store.Root(), "")
	require.NoError(t, err)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := New(store, patch.New(store, false, nil), sink, WithClock(func() time.Time { return now }))

	sum := checksum.Sum([]byte(handlerTS))
	require.NoError(t, svc.AppendReadLog(context.Background(), ReadLogRequest{RunID: "run-1", Path: "./src/handler.ts", SHA256: sum}))
	require.NoError(t, svc.AppendReadLog(context.Background(), ReadLogRequest{RunID: "run-1", Path: "src/handler.ts", SHA256: sum}))

	f, err := os.Open(filepath.Join(store.Root(), audit.DefaultDir, "readlog.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var recs []models.ReadRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r models.ReadRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "src/handler.ts", recs[0].Path)
	assert.Equal(t, "run-1", recs[0].RunID)
	assert.Equal(t, sum, recs[0].SHA256)
	assert.Equal(t, "2026-05-01T12:00:00Z", recs[0].TS)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
}

func TestAppendReadLogValidation(t *testing.T) {
	svc, _ := newService(t, nil, false)

	err := svc.AppendReadLog(context.Background(), ReadLogRequest{Path: "a.ts", SHA256: "x"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidParams))

	err = svc.AppendReadLog(context.Background(), ReadLogRequest{RunID: "r", Path: "../../etc/passwd", SHA256: "x"})
	assert.True(t, errors.Is(err, apperr.ErrPathEscape))
}

func TestAppendReadLogDisabledCreatesNothing(t *testing.T) {
	svc, store := newService(t, nil, false)
	require.NoError(t, svc.AppendReadLog(context.Background(), ReadLogRequest{RunID: "r", Path: "a.ts", SHA256: "x"}))
	_, err := os.Stat(filepath.Join(store.Root(), ".carta"))
	assert.True(t, os.IsNotExist(err))
}

func TestSearchAndFindBlocks(t *testing.T) {
	db := testutil.TestDB(t)
	svc, store := newService(t, map[string]string{
		"src/handler.ts": handlerTS,
		"docs/README.md": readmeMD,
	}, false, WithIndex(db))
	require.NoError(t, index.Sync(db, store, quietLogger()))
	require.True(t, svc.IndexEnabled())

	hits, err := svc.Search(context.Background(), "entry", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "src/handler.ts", hits[0].Path)
	assert.Equal(t, models.SingleFileCard, hits[0].Kind)

	_, err = svc.Search(context.Background(), "  ", 10)
	assert.True(t, errors.Is(err, apperr.ErrInvalidParams))

	rows, err := svc.FindBlocks(context.Background(), "body")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, index.BlockRow{
		Path:    "src/handler.ts",
		BlockID: "body",
		Start:   7,
		End:     7,
		Hash:    parser.Entry("src/handler.ts", []byte(handlerTS)).EditBlocks[0].Hash,
	}, rows[0])
}

func TestIndexDisabled(t *testing.T) {
	svc, _ := newService(t, nil, false)
	assert.False(t, svc.IndexEnabled())

	_, err := svc.Search(context.Background(), "x", 0)
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedMode))
	_, err = svc.FindBlocks(context.Background(), "x")
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedMode))
}
