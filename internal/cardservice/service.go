// Package cardservice coordinates storage, parsing, patching, auditing and
// the optional card index behind the transport layers.
package cardservice

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

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
)

// Publisher receives change notifications.
type Publisher interface {
	PublishPatch(p sse.BlockPatch)
	PublishFileEvent(kind, path string)
}

// Service implements the logical card operations.
type Service struct {
	store     storage.Provider
	engine    *patch.Engine
	sink      audit.Sink
	db        index.CardIndex
	events    Publisher
	suggester generator.Suggester
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIndex enables post-patch re-indexing and search.
func WithIndex(db index.CardIndex) Option {
	return func(s *Service) { s.db = db }
}

// WithPublisher sends patch and re-index notifications to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithSuggester replaces the heuristic card suggester.
func WithSuggester(g generator.Suggester) Option {
	return func(s *Service) { s.suggester = g }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source for audit records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a card service.
func New(store storage.Provider, engine *patch.Engine, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    engine,
		sink:      sink,
		suggester: generator.NewHeuristic(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = audit.Discard{}
	}
	return s
}

// ReadOnly reports whether patches are rejected.
func (s *Service) ReadOnly() bool { return s.engine.ReadOnly() }

// Root returns the absolute workspace root.
func (s *Service) Root() string { return s.store.Root() }

// IndexEnabled reports whether search is available.
func (s *Service) IndexEnabled() bool { return s.db != nil }

// ScanRequest selects the files to scan.
type ScanRequest struct {
	Root         string             `json:"root,omitempty"`
	Include      []string           `json:"include,omitempty"`
	Exclude      []string           `json:"exclude,omitempty"`
	AutoGenerate bool               `json:"autoGenerate,omitempty"`
	Generate     *generator.Options `json:"generateOptions,omitempty"`
}

// Validate checks the generation options.
func (r ScanRequest) Validate() error {
	if r.Generate == nil {
		return nil
	}
	return validation.ValidateStruct(r.Generate,
		validation.Field(&r.Generate.Template,
			validation.In(generator.TemplateMinimal, generator.TemplateDetailed)),
	)
}

// GeneratedSummary lists the paths that received suggestions.
type GeneratedSummary struct {
	Count  int      `json:"count"`
	Files  []string `json:"files"`
	DryRun bool     `json:"dryRun"`
}

// ScanResult is the scan response.
type ScanResult struct {
	Files       []models.FileEntry     `json:"files"`
	Generated   *GeneratedSummary      `json:"generated,omitempty"`
	Suggestions []generator.Suggestion `json:"suggestions,omitempty"`
}

// Scan enumerates files under req.Root and parses each one. Files that are
// not valid UTF-8 are skipped. Entries are sorted by path.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	paths, err := s.store.Enumerate(req.Root, req.Include, req.Exclude)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{Files: make([]models.FileEntry, 0, len(paths))}
	contents := make(map[string]string)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.store.Read(p)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(data) {
			s.logger.Debug("scan: skipping non-UTF-8 file", slog.String("path", p))
			continue
		}
		res.Files = append(res.Files, parser.Entry(p, data))
		if req.AutoGenerate {
			contents[p] = string(data)
		}
	}

	if req.AutoGenerate {
		if err := s.suggest(res, contents, req.Generate); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// suggest proposes cards for files lacking an SFC and for directories
// where no file carries a DFC. Nothing is written.
func (s *Service) suggest(res *ScanResult, contents map[string]string, opts *generator.Options) error {
	o := generator.DefaultOptions()
	if opts != nil {
		o = *opts
	}
	// Suggestions are never persisted, whatever the caller asked for.
	o.DryRun = true

	summary := &GeneratedSummary{Files: []string{}, DryRun: true}
	dirHasDFC := make(map[string]bool)
	dirFirst := make(map[string]int)

	for i := range res.Files {
		e := &res.Files[i]
		dir := path.Dir(e.Path)
		if dir == "." {
			dir = ""
		}
		if _, ok := dirFirst[dir]; !ok {
			dirFirst[dir] = i
		}
		dirHasDFC[dir] = dirHasDFC[dir] || e.DFC.Exists

		if e.SFC.Exists || !s.suggester.ShouldSuggestSFC(e.Path, contents[e.Path]) {
			continue
		}
		sg, err := s.suggester.SuggestSFC(e.Path, contents[e.Path], o)
		if err != nil {
			return invalid(err)
		}
		res.Suggestions = append(res.Suggestions, *sg)
		e.Generated = &models.GeneratedCards{SFC: true}
		summary.Files = append(summary.Files, e.Path)
	}

	dirs := make([]string, 0, len(dirHasDFC))
	for d := range dirHasDFC {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		if dirHasDFC[d] || !s.suggester.ShouldSuggestDFC(d) {
			continue
		}
		sg, err := s.suggester.SuggestDFC(d, o)
		if err != nil {
			return invalid(err)
		}
		res.Suggestions = append(res.Suggestions, *sg)
		e := &res.Files[dirFirst[d]]
		if e.Generated == nil {
			e.Generated = &models.GeneratedCards{}
			summary.Files = append(summary.Files, e.Path)
		}
		e.Generated.DFC = true
	}

	summary.Count = len(res.Suggestions)
	res.Generated = summary
	return nil
}

// GetCard returns the cards of a single file. Cards without payload text
// are omitted. Payloads that decode as YAML mappings are also returned as
// fields, with the leading '@' of the marker token dropped.
func (s *Service) GetCard(_ context.Context, filePath string) (*models.CardsResult, error) {
	abs, err := s.store.Resolve(filePath)
	if err != nil {
		return nil, err
	}
	rel, err := s.store.Rel(abs)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(rel)
	if err != nil {
		return nil, err
	}

	res := parser.Parse(string(data))
	out := &models.CardsResult{Path: rel, SHA256: checksum.Sum(data)}
	for _, c := range []models.Card{res.SFC, res.DFC} {
		if !c.Exists || c.YAML == "" {
			continue
		}
		if c.Kind == models.SingleFileCard {
			out.SFC = c.Detail()
		} else {
			out.DFC = c.Detail()
		}
		if fields, ok := decodeFields(c.YAML); ok {
			if out.Fields == nil {
				out.Fields = make(map[models.CardKind]map[string]any)
			}
			out.Fields[c.Kind] = fields
		}
	}
	return out, nil
}

func decodeFields(payload string) (map[string]any, bool) {
	lines := strings.Split(payload, "\n")
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, models.SFCToken) || strings.HasPrefix(trimmed, models.DFCToken) {
			lines[i] = strings.Replace(l, "@", "", 1)
		}
	}
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(strings.Join(lines, "\n")), &fields); err != nil || len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

// ApplyPatch runs the patch engine, then refreshes the index entry for the
// file and announces the change.
func (s *Service) ApplyPatch(ctx context.Context, req patch.Request) (*patch.Result, error) {
	res, err := s.engine.Apply(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.db != nil {
		data, readErr := s.store.Read(res.File)
		if readErr == nil {
			_, readErr = index.IndexFile(s.db, res.File, data)
		}
		if readErr != nil {
			s.logger.Warn("reindex after patch failed",
				slog.String("file", res.File),
				slog.String("error", readErr.Error()))
		}
	}
	if s.events != nil {
		s.events.PublishPatch(sse.BlockPatch{File: res.File, BlockID: res.BlockID, NewHash: res.NewHash})
		s.events.PublishFileEvent(index.EventUpdated, res.File)
	}
	return res, nil
}

// ReadLogRequest is one audit entry supplied by a caller.
type ReadLogRequest struct {
	RunID  string `json:"runId"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Validate checks required fields.
func (r ReadLogRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RunID, validation.Required),
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.SHA256, validation.Required),
	)
}

// AppendReadLog records that the caller read path at digest sha256.
func (s *Service) AppendReadLog(ctx context.Context, req ReadLogRequest) error {
	if err := req.Validate(); err != nil {
		return invalid(err)
	}
	abs, err := s.store.Resolve(req.Path)
	if err != nil {
		return err
	}
	rel, err := s.store.Rel(abs)
	if err != nil {
		return err
	}
	return s.sink.Append(ctx, audit.NewRecord(req.RunID, rel, req.SHA256, s.now()))
}

// Search queries card payloads in the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.db == nil {
		return nil, errIndexDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.KindInvalidParams, "query must not be empty", nil)
	}
	return s.db.Search(query, limit)
}

// FindBlocks locates every indexed block with the given id.
func (s *Service) FindBlocks(_ context.Context, blockID string) ([]index.BlockRow, error) {
	if s.db == nil {
		return nil, errIndexDisabled
	}
	return s.db.FindBlocks(blockID)
}

var errIndexDisabled = apperr.New(apperr.KindUnsupportedMode, "card index is disabled", nil)

func invalid(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.New(apperr.KindInvalidParams, err.Error(), nil)
}
