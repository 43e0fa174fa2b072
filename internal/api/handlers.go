package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/cardservice"
	"github.com/starford/carta/internal/generator"
	"github.com/starford/carta/internal/index"
)

// maxBodySize caps request bodies.
const maxBodySize = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *cardservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *cardservice.Service) *Handler {
	return &Handler{svc: svc}
}

// filePath extracts the file path from the URL (everything after /api/cards/).
// Supports encoded slashes from OpenAPI clients (e.g. src%2Fuser.ts).
func filePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// listParam collects a repeated or comma-separated query parameter.
func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ListFiles handles GET /api/files.
//
//	@Summary		Scan the workspace for cards and edit blocks
//	@Tags			files
//	@Produce		json
//	@Param			root			query		string	false	"Sub-directory relative to the workspace root"
//	@Param			include			query		string	false	"Include globs (repeat or comma-separate)"
//	@Param			exclude			query		string	false	"Extra exclude globs (repeat or comma-separate)"
//	@Param			autoGenerate	query		bool	false	"Suggest missing cards"
//	@Param			template		query		string	false	"Suggestion template"	Enums(minimal, detailed)
//	@Success		200				{object}	ScanResponse
//	@Failure		400				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := cardservice.ScanRequest{
		Root:    q.Get("root"),
		Include: listParam(q, "include"),
		Exclude: listParam(q, "exclude"),
	}
	req.AutoGenerate, _ = strconv.ParseBool(q.Get("autoGenerate"))
	if req.AutoGenerate {
		opts := generator.DefaultOptions()
		if t := q.Get("template"); t != "" {
			opts.Template = generator.Template(t)
		}
		req.Generate = &opts
	}

	res, err := h.svc.Scan(r.Context(), req)
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetCard handles GET /api/cards/*.
//
//	@Summary		Get the cards of a single file
//	@Tags			cards
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	CardsResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{path} [get]
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	path := filePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.GetCard(r.Context(), path)
	if err != nil {
		writeError(w, "get card", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ApplyPatch handles POST /api/patches.
//
//	@Summary		Replace the body of an edit block with an optimistic hash check
//	@Tags			patches
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PatchRequest	true	"Patch to apply"
//	@Success		200		{object}	PatchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/patches [post]
func (h *Handler) ApplyPatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, "apply patch", apperr.New(apperr.KindInvalidParams, err.Error(), nil))
		return
	}
	res, err := h.svc.ApplyPatch(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, "apply patch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AppendReadLog handles POST /api/readlog.
//
//	@Summary		Record that a file version was read
//	@Tags			audit
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ReadLogRequest	true	"Read event"
//	@Success		200		{object}	OKResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/readlog [post]
func (h *Handler) AppendReadLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req ReadLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.AppendReadLog(r.Context(), req); err != nil {
		writeError(w, "append readlog", err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Search handles GET /api/search.
//
//	@Summary		Search card payloads
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		501		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// FindBlocks handles GET /api/blocks.
//
//	@Summary		Locate edit blocks by id
//	@Tags			search
//	@Produce		json
//	@Param			id	query		string	true	"Block id"
//	@Success		200	{object}	BlocksResponse
//	@Failure		400	{object}	errResponse
//	@Failure		501	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) FindBlocks(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'id' is required"))
		return
	}
	blocks, err := h.svc.FindBlocks(r.Context(), id)
	if err != nil {
		writeError(w, "find blocks", err)
		return
	}
	if blocks == nil {
		blocks = []index.BlockRow{}
	}
	writeJSON(w, http.StatusOK, BlocksResponse{Blocks: blocks})
}
