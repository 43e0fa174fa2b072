package generator

import (
	"path"
	"regexp"
	"strings"
)

type pathInfo struct {
	name          string
	fileType      string
	componentType string
	tags          []string
}

const maxTags = 5

var fileTypes = map[string]string{
	".ts":   "typescript",
	".tsx":  "react-typescript",
	".js":   "javascript",
	".jsx":  "react-javascript",
	".vue":  "vue-component",
	".py":   "python",
	".go":   "go",
	".md":   "markdown",
	".json": "json-config",
	".yaml": "yaml-config",
	".yml":  "yaml-config",
	".html": "html",
	".css":  "stylesheet",
	".scss": "sass-stylesheet",
	".less": "less-stylesheet",
}

// componentRules is checked in order; the first substring hit wins.
var componentRules = []struct{ needle, kind string }{
	{"component", "component"},
	{"service", "service"},
	{"util", "utility"},
	{"helper", "helper"},
	{"hook", "hook"},
	{"store", "store"},
	{"model", "model"},
	{"controller", "controller"},
	{"middleware", "middleware"},
	{"config", "configuration"},
	{"test", "test"},
	{"spec", "test"},
	{"type", "types"},
}

var dirTags = []struct{ dir, tag string }{
	{"src", "source"},
	{"components", "ui"},
	{"pages", "page"},
	{"api", "api"},
	{"lib", "library"},
	{"utils", "utility"},
}

func inferPath(filePath string, enabled bool) pathInfo {
	base := path.Base(filePath)
	ext := path.Ext(base)
	info := pathInfo{
		name:          strings.TrimSuffix(base, ext),
		fileType:      "unknown",
		componentType: "module",
	}
	if !enabled {
		return info
	}
	if t, ok := fileTypes[ext]; ok {
		info.fileType = t
	}
	info.componentType = componentType(filePath)
	info.tags = tagsFor(filePath, info.fileType, info.componentType)
	return info
}

func componentType(filePath string) string {
	lower := strings.ToLower(filePath)
	for _, r := range componentRules {
		if strings.Contains(lower, r.needle) {
			return r.kind
		}
	}
	return "module"
}

func tagsFor(filePath, fileType, component string) []string {
	var tags []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	if strings.Contains(fileType, "react") {
		add("react")
	}
	if strings.Contains(fileType, "typescript") {
		add("typescript")
	}
	if strings.Contains(fileType, "javascript") {
		add("javascript")
	}
	if fileType == "vue-component" {
		add("vue")
	}
	add(component)

	parts := make(map[string]bool)
	for _, p := range strings.Split(filePath, "/") {
		parts[p] = true
	}
	for _, d := range dirTags {
		if parts[d.dir] {
			add(d.tag)
		}
	}

	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

var (
	defaultClassRe = regexp.MustCompile(`export\s+default\s+class`)
	functionRe     = regexp.MustCompile(`(?m)export\s+(default\s+)?function|^func\s`)
	typeDeclRe     = regexp.MustCompile(`\binterface\s|\btype\s`)
	testSuiteRe    = regexp.MustCompile(`describe\(|test\(|func Test`)
)

var typeDescriptions = map[string]string{
	"react-typescript": "React component with TypeScript",
	"react-javascript": "React component with JavaScript",
	"typescript":       "TypeScript module",
	"javascript":       "JavaScript module",
	"vue-component":    "Vue.js component",
	"python":           "Python module",
	"go":               "Go source file",
	"markdown":         "Documentation file",
	"json-config":      "Configuration file",
	"yaml-config":      "YAML configuration",
}

func describeFile(info pathInfo, content string, fromContent bool) string {
	if fromContent {
		switch {
		case defaultClassRe.MatchString(content):
			return info.componentType + " class implementation"
		case functionRe.MatchString(content):
			return info.componentType + " function implementation"
		case typeDeclRe.MatchString(content):
			return "Type definitions and interfaces"
		case testSuiteRe.MatchString(content):
			return "Test suite for " + info.name
		}
	}
	if d, ok := typeDescriptions[info.fileType]; ok {
		return d
	}
	return info.componentType + " implementation"
}

var dirDescriptions = map[string]string{
	"components": "Reusable UI components",
	"pages":      "Application pages and routes",
	"services":   "Business logic and API services",
	"utils":      "Utility functions and helpers",
	"hooks":      "Custom React hooks",
	"store":      "State management",
	"types":      "TypeScript type definitions",
	"api":        "API routes and handlers",
	"lib":        "Third-party library integrations",
	"config":     "Configuration files",
	"assets":     "Static assets and resources",
	"styles":     "CSS and styling files",
	"tests":      "Test files and test utilities",
	"internal":   "Private application packages",
	"cmd":        "Command entry points",
}

func describeDir(name string) string {
	if d, ok := dirDescriptions[strings.ToLower(name)]; ok {
		return d
	}
	return name + " module collection"
}

// wrapComment places a card body in the comment dialect of filePath.
func wrapComment(filePath, body string) string {
	switch path.Ext(filePath) {
	case ".md", ".html", ".vue", ".xml":
		return "<!-- " + body + "\n-->"
	case ".py", ".sh", ".rb", ".yaml", ".yml", ".toml":
		lines := strings.Split(body, "\n")
		for i, l := range lines {
			lines[i] = "# " + l
		}
		return strings.Join(lines, "\n")
	default:
		return "/* " + body + "\n*/"
	}
}
