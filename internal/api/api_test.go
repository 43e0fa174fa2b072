package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/carta/internal/audit"
	"github.com/starford/carta/internal/cardservice"
	"github.com/starford/carta/internal/checksum"
	"github.com/starford/carta/internal/index"
	"github.com/starford/carta/internal/patch"
	"github.com/starford/carta/internal/sse"
	"github.com/starford/carta/internal/testutil"
)

const userTS = "// @SFC\n// name: user\n// role: loads users\nexport function load(id) {\n  /* LLM-EDIT:BEGIN load */\n  return db.find(id);\n  /* LLM-EDIT:END load */\n}\n"

type envOpts struct {
	authToken string
	readOnly  bool
	noIndex   bool
	sse       http.Handler
}

// testEnv sets up a temp workspace, SQLite index, service, and router for testing.
func testEnv(t *testing.T, o envOpts) (http.Handler, string) {
	t.Helper()

	root, store := testutil.TestWorkspace(t, map[string]string{
		"src/user.ts":   userTS,
		"docs/guide.md": "---\n@DFC: docs\n---\n# Guide\n",
	})
	sink, err := audit.Open(audit.ModeJSONL, root, "")
	if err != nil {
		t.Fatal(err)
	}

	var opts []cardservice.Option
	if !o.noIndex {
		db := testutil.TestDB(t)
		if err := index.Sync(db, store, testLogger()); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		opts = append(opts, cardservice.WithIndex(db))
	}
	svc := cardservice.New(store, patch.New(store, o.readOnly, testLogger()), sink, opts...)
	return NewRouter(svc, o.authToken != "", o.authToken, o.sse), root
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) errResponse {
	t.Helper()
	var e errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestListFiles(t *testing.T) {
	router, _ := testEnv(t, envOpts{})

	w := do(t, router, http.MethodGet, "/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res ScanResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Files) != 2 {
		t.Fatalf("files = %+v", res.Files)
	}
	if res.Files[0].Path != "docs/guide.md" || res.Files[1].Path != "src/user.ts" {
		t.Errorf("order = %s, %s", res.Files[0].Path, res.Files[1].Path)
	}
	if blocks := res.Files[1].EditBlocks; len(blocks) != 1 || blocks[0].Start != 6 || blocks[0].End != 6 {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestListFilesFiltersAndSuggestions(t *testing.T) {
	router, _ := testEnv(t, envOpts{})

	w := do(t, router, http.MethodGet, "/files?include=**/*.ts&autoGenerate=true&template=detailed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res ScanResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Files) != 1 {
		t.Fatalf("files = %+v", res.Files)
	}
	if res.Generated == nil || res.Generated.Count != 1 {
		t.Fatalf("generated = %+v", res.Generated)
	}
	if !strings.Contains(res.Suggestions[0].Content, "type: module") {
		t.Errorf("detailed suggestion = %q", res.Suggestions[0].Content)
	}

	w = do(t, router, http.MethodGet, "/files?autoGenerate=true&template=huge", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad template = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodGet, "/files?root=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing root = %d, want 404", w.Code)
	}
}

func TestGetCard(t *testing.T) {
	router, _ := testEnv(t, envOpts{})

	w := do(t, router, http.MethodGet, "/cards/src/user.ts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res CardsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.SFC == nil || res.SFC.YAML != "name: user\nrole: loads users" {
		t.Errorf("sfc = %+v", res.SFC)
	}
	if res.SHA256 != checksum.Sum([]byte(userTS)) {
		t.Errorf("sha256 = %s", res.SHA256)
	}

	// Encoded slashes resolve to the same file.
	w = do(t, router, http.MethodGet, "/cards/src%2Fuser.ts", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded path = %d", w.Code)
	}
}

func TestGetCardErrors(t *testing.T) {
	router, _ := testEnv(t, envOpts{})

	cases := []struct {
		target string
		status int
		code   string
	}{
		{"/cards/nope.ts", http.StatusNotFound, "NOT_FOUND"},
		{"/cards/..%2F..%2Fetc%2Fpasswd", http.StatusBadRequest, "PATH_ESCAPE"},
	}
	for _, c := range cases {
		w := do(t, router, http.MethodGet, c.target, nil)
		if w.Code != c.status {
			t.Errorf("%s = %d, want %d", c.target, w.Code, c.status)
			continue
		}
		if e := decodeErr(t, w); e.Code != c.code {
			t.Errorf("%s code = %s, want %s", c.target, e.Code, c.code)
		}
	}
}

func TestApplyPatch(t *testing.T) {
	router, root := testEnv(t, envOpts{})
	oldHash := checksum.Block("  return db.find(id);")

	w := do(t, router, http.MethodPost, "/patches", PatchRequest{
		File:       "src/user.ts",
		BlockID:    "load",
		OldHash:    oldHash,
		NewContent: "  return cache.get(id) ?? db.find(id);",
		Reason:     "cache reads",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res PatchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.File != "src/user.ts" || res.BlockID != "load" {
		t.Errorf("result = %+v", res)
	}
	if got := testutil.ReadFile(t, root, "src/user.ts"); !strings.Contains(got, "cache.get(id)") {
		t.Errorf("file = %q", got)
	}

	// The index follows the patch.
	w = do(t, router, http.MethodGet, "/blocks?id=load", nil)
	var blocks BlocksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &blocks)
	if len(blocks.Blocks) != 1 || blocks.Blocks[0].Hash != res.NewHash {
		t.Errorf("indexed blocks = %+v, want hash %s", blocks.Blocks, res.NewHash)
	}

	// Reusing the old hash is stale.
	w = do(t, router, http.MethodPost, "/patches", PatchRequest{
		File: "src/user.ts", BlockID: "load", OldHash: oldHash, NewContent: "x",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("stale = %d, want 409", w.Code)
	}
	e := decodeErr(t, w)
	if e.Code != "STALE_BLOCK" || e.Details["expected"] != oldHash || e.Details["actual"] != res.NewHash {
		t.Errorf("stale body = %+v", e)
	}
}

func TestApplyPatchStatusMapping(t *testing.T) {
	router, _ := testEnv(t, envOpts{})
	oldHash := checksum.Block("  return db.find(id);")

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing fields", PatchRequest{File: "src/user.ts"}, http.StatusBadRequest},
		{"path escape", PatchRequest{File: "../x.ts", BlockID: "load", OldHash: oldHash}, http.StatusBadRequest},
		{"out of bound", PatchRequest{File: "src/user.ts", BlockID: "load", OldHash: oldHash, NewContent: "/* LLM-EDIT:BEGIN evil */"}, http.StatusBadRequest},
		{"block not found", PatchRequest{File: "src/user.ts", BlockID: "save", OldHash: oldHash}, http.StatusNotFound},
		{"file not found", PatchRequest{File: "src/none.ts", BlockID: "load", OldHash: oldHash}, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/patches", c.body)
			if w.Code != c.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, c.status, w.Body.String())
			}
		})
	}
}

func TestApplyPatchReadOnly(t *testing.T) {
	router, root := testEnv(t, envOpts{readOnly: true})

	w := do(t, router, http.MethodPost, "/patches", PatchRequest{
		File: "src/user.ts", BlockID: "load", OldHash: checksum.Block("  return db.find(id);"), NewContent: "x",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("read-only = %d, want 403", w.Code)
	}
	if e := decodeErr(t, w); e.Code != "READ_ONLY_MODE" {
		t.Errorf("code = %s", e.Code)
	}
	if got := testutil.ReadFile(t, root, "src/user.ts"); got != userTS {
		t.Error("read-only patch modified the file")
	}
}

func TestAppendReadLog(t *testing.T) {
	router, root := testEnv(t, envOpts{})

	w := do(t, router, http.MethodPost, "/readlog", ReadLogRequest{
		RunID: "run-1", Path: "src/user.ts", SHA256: checksum.Sum([]byte(userTS)),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != `{"ok":true}` {
		t.Errorf("body = %s", w.Body.String())
	}
	if log := testutil.ReadFile(t, root, ".carta/logs/readlog.jsonl"); !strings.Contains(log, `"runId":"run-1"`) {
		t.Errorf("log = %q", log)
	}

	w = do(t, router, http.MethodPost, "/readlog", ReadLogRequest{Path: "src/user.ts"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	router, _ := testEnv(t, envOpts{})

	w := do(t, router, http.MethodGet, "/search?q=loads", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Results) != 1 || res.Results[0].Path != "src/user.ts" {
		t.Errorf("results = %+v", res.Results)
	}

	w = do(t, router, http.MethodGet, "/search?q=zzzz", nil)
	if strings.TrimSpace(w.Body.String()) != `{"results":[]}` {
		t.Errorf("empty search body = %s", w.Body.String())
	}
}

func TestSearchMissingQuery(t *testing.T) {
	router, _ := testEnv(t, envOpts{})
	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/blocks", nil); w.Code != http.StatusBadRequest {
		t.Errorf("blocks no id = %d, want 400", w.Code)
	}
}

func TestIndexDisabled(t *testing.T) {
	router, _ := testEnv(t, envOpts{noIndex: true})
	w := do(t, router, http.MethodGet, "/search?q=user", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("search without index = %d, want 501", w.Code)
	}
	if e := decodeErr(t, w); e.Code != "UNSUPPORTED_MODE" {
		t.Errorf("code = %s", e.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, _ := testEnv(t, envOpts{authToken: "secret123"})

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed scan = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := testEnv(t, envOpts{authToken: "secret123"})

	if w := do(t, router, http.MethodGet, "/files", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router, _ := testEnv(t, envOpts{authToken: "secret123"})

	req := httptest.NewRequest(http.MethodPost, "/patches", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	router, _ := testEnv(t, envOpts{authToken: "secret", sse: broker})

	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	router, _ := testEnv(t, envOpts{authToken: "tok", sse: broker})

	// The SSE handler blocks, so cancel the request after a short time.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
