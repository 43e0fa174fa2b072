// Package generator proposes card text for files and directories that
// lack one. Suggestions are returned to the caller and never written.
package generator

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/carta/internal/models"
)

// Template selects how much a suggested card contains.
type Template string

// Templates.
const (
	TemplateMinimal  Template = "minimal"
	TemplateDetailed Template = "detailed"
)

// Options tune suggestion heuristics.
type Options struct {
	Template         Template `json:"template,omitempty"`
	InferFromPath    bool     `json:"inferFromPath"`
	InferFromContent bool     `json:"inferFromContent"`
	DryRun           bool     `json:"dryRun"`
}

// DefaultOptions returns the minimal template with every heuristic enabled.
func DefaultOptions() Options {
	return Options{Template: TemplateMinimal, InferFromPath: true, InferFromContent: true, DryRun: true}
}

// UnmarshalJSON fills omitted fields from DefaultOptions.
func (o *Options) UnmarshalJSON(data []byte) error {
	type plain Options
	p := plain(DefaultOptions())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = Options(p)
	return nil
}

// Suggestion is proposed card text for one path.
type Suggestion struct {
	Kind    models.CardKind `json:"type"`
	Path    string          `json:"path"`
	Content string          `json:"content"`
	Snippet string          `json:"snippet"`
	Reason  string          `json:"reason"`
}

// Suggester proposes cards.
type Suggester interface {
	SuggestSFC(filePath, content string, opts Options) (*Suggestion, error)
	SuggestDFC(dir string, opts Options) (*Suggestion, error)
	ShouldSuggestSFC(filePath, content string) bool
	ShouldSuggestDFC(dir string) bool
}

// Heuristic is the path- and content-driven Suggester.
type Heuristic struct {
	now func() time.Time
}

var _ Suggester = (*Heuristic)(nil)

// NewHeuristic returns a Suggester using the wall clock for dates.
func NewHeuristic() *Heuristic {
	return &Heuristic{now: time.Now}
}

type sfcMinimal struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Tags        []string `yaml:"tags,flow"`
}

type sfcDetailed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Type        string   `yaml:"type"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags,flow"`
	Created     string   `yaml:"created"`
	Author      string   `yaml:"author"`
}

type dfcMinimal struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

type dfcDetailed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Type        string   `yaml:"type"`
	Created     string   `yaml:"created"`
	Structure   []string `yaml:"structure"`
}

// SuggestSFC proposes a single-file card for filePath.
func (h *Heuristic) SuggestSFC(filePath, content string, opts Options) (*Suggestion, error) {
	tmpl, err := normalizeTemplate(opts.Template)
	if err != nil {
		return nil, err
	}
	info := inferPath(filePath, opts.InferFromPath)
	desc := describeFile(info, content, opts.InferFromContent)

	var doc any = sfcMinimal{Name: info.name, Description: desc, Version: "1.0.0", Tags: info.tags}
	if tmpl == TemplateDetailed {
		doc = sfcDetailed{
			Name:        info.name,
			Description: desc,
			Version:     "1.0.0",
			Type:        info.fileType,
			Category:    info.componentType,
			Tags:        info.tags,
			Created:     h.now().UTC().Format(time.DateOnly),
			Author:      "auto-generated",
		}
	}
	body, err := render(models.SFCToken, doc)
	if err != nil {
		return nil, err
	}
	return &Suggestion{
		Kind:    models.SingleFileCard,
		Path:    filePath,
		Content: body,
		Snippet: wrapComment(filePath, body),
		Reason:  fmt.Sprintf("Generated %s SFC card for %s file", tmpl, info.fileType),
	}, nil
}

// SuggestDFC proposes a directory card for dir.
func (h *Heuristic) SuggestDFC(dir string, opts Options) (*Suggestion, error) {
	tmpl, err := normalizeTemplate(opts.Template)
	if err != nil {
		return nil, err
	}
	name := path.Base(dir)
	if dir == "" || dir == "." {
		name = "root"
	}
	desc := describeDir(name)

	var doc any = dfcMinimal{Name: name, Description: desc, Version: "1.0.0"}
	if tmpl == TemplateDetailed {
		doc = dfcDetailed{
			Name:        name,
			Description: desc,
			Version:     "1.0.0",
			Type:        "module",
			Created:     h.now().UTC().Format(time.DateOnly),
			Structure:   []string{"Document directory structure"},
		}
	}
	body, err := render(models.DFCToken, doc)
	if err != nil {
		return nil, err
	}
	return &Suggestion{
		Kind:    models.DirectoryFileCard,
		Path:    dir,
		Content: body,
		Snippet: "---\n" + body + "\n---",
		Reason:  fmt.Sprintf("Generated %s DFC card for directory", tmpl),
	}, nil
}

var skipExtensions = map[string]bool{".lock": true, ".log": true, ".tmp": true, ".cache": true}

var sfcExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".vue": true, ".py": true, ".md": true, ".go": true,
}

// ShouldSuggestSFC reports whether filePath is a source file worth a card.
func (h *Heuristic) ShouldSuggestSFC(filePath, content string) bool {
	ext := path.Ext(filePath)
	if skipExtensions[ext] {
		return false
	}
	for _, part := range strings.Split(filePath, "/") {
		if part == "node_modules" || part == "dist" || part == ".git" {
			return false
		}
	}
	if len(strings.TrimSpace(content)) < 10 {
		return false
	}
	return sfcExtensions[ext]
}

var skipDirs = map[string]bool{
	"node_modules": true, ".git": true, ".vscode": true, "dist": true,
	"build": true, ".next": true, ".cache": true,
}

// ShouldSuggestDFC reports whether dir may carry a directory card.
func (h *Heuristic) ShouldSuggestDFC(dir string) bool {
	return !skipDirs[path.Base(dir)]
}

func normalizeTemplate(t Template) (Template, error) {
	switch t {
	case "", TemplateMinimal:
		return TemplateMinimal, nil
	case TemplateDetailed:
		return TemplateDetailed, nil
	default:
		return "", fmt.Errorf("generator: unknown template %q", t)
	}
}

// render emits the marker token followed by doc as block YAML.
func render(token string, doc any) (string, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("generator: render yaml: %w", err)
	}
	return token + "\n" + strings.TrimRight(string(out), "\n"), nil
}
