// Package parser locates metadata cards and LLM-EDIT blocks in source text.
//
// Parsing is a pure function of the input and never fails: a file without
// cards or blocks yields absent cards and an empty block list.
package parser

import (
	"strings"

	"github.com/starford/carta/internal/checksum"
	"github.com/starford/carta/internal/models"
)

const bom = "\ufeff"

// Result holds the output of parsing a file.
type Result struct {
	SFC        models.Card
	DFC        models.Card
	EditBlocks []models.EditBlock
}

// Parse extracts the leading single-file card, the leading directory card
// and all closed edit blocks from content.
func Parse(content string) *Result {
	lines := Lines(content)
	return &Result{
		SFC:        extractSFC(lines),
		DFC:        extractDFC(lines),
		EditBlocks: extractEditBlocks(lines),
	}
}

// Entry builds the scan listing of a file from its raw bytes.
func Entry(path string, data []byte) models.FileEntry {
	res := Parse(string(data))
	return models.FileEntry{
		Path:       path,
		SFC:        res.SFC,
		DFC:        res.DFC,
		EditBlocks: res.BlockInfos(),
		SHA256:     checksum.Sum(data),
	}
}

// Lines strips a leading byte-order mark, normalizes newlines and splits
// content into lines. Line n of the file is Lines(content)[n-1].
func Lines(content string) []string {
	content = strings.TrimPrefix(content, bom)
	return strings.Split(checksum.NormalizeNewlines(content), "\n")
}

// Block returns the first edit block with the given id.
func (r *Result) Block(id string) (models.EditBlock, bool) {
	for _, b := range r.EditBlocks {
		if b.ID == id {
			return b, true
		}
	}
	return models.EditBlock{}, false
}

// BlockInfos returns the listing form of every edit block, hashes included.
func (r *Result) BlockInfos() []models.BlockInfo {
	out := make([]models.BlockInfo, len(r.EditBlocks))
	for i, b := range r.EditBlocks {
		out[i] = models.BlockInfo{
			BlockID: b.ID,
			Start:   b.Start,
			End:     b.End,
			Hash:    checksum.Block(b.Content),
		}
	}
	return out
}

// extractSFC finds a single-file card inside the leading comment of the file.
func extractSFC(lines []string) models.Card {
	absent := models.Card{Kind: models.SingleFileCard}

	first := firstNonBlank(lines)
	if first < 0 {
		return absent
	}
	style := classify(lines[first])
	if style == styleNone || style == styleFrontMatter {
		return absent
	}

	raw := lines[first : style.collect(lines, first)+1]
	stripped := stripDelimiters(raw)

	marker := -1
	for i, l := range stripped {
		if strings.Contains(l, models.SFCToken) {
			marker = i
			break
		}
	}
	if marker < 0 {
		return absent
	}

	payload := stripped[marker:]
	start := first + marker + 1
	// A marker line holding only the token introduces the payload.
	if strings.TrimSpace(payload[0]) == models.SFCToken {
		payload = payload[1:]
		start++
	}
	payload = trimTrailingBlank(payload)
	if len(payload) == 0 {
		line := first + marker + 1
		return models.Card{Kind: models.SingleFileCard, Exists: true, Start: line, End: line}
	}

	return models.Card{
		Kind:   models.SingleFileCard,
		Exists: true,
		YAML:   strings.TrimRight(strings.Join(payload, "\n"), " \t\n"),
		Start:  start,
		End:    start + len(payload) - 1,
	}
}

// extractDFC finds a directory card in leading YAML front matter.
func extractDFC(lines []string) models.Card {
	absent := models.Card{Kind: models.DirectoryFileCard}

	first := firstNonBlank(lines)
	if first < 0 || classify(lines[first]) != styleFrontMatter {
		return absent
	}
	closing := styleFrontMatter.collect(lines, first)
	if closing >= len(lines) {
		return absent
	}

	body := lines[first+1 : closing]
	found := false
	for _, l := range body {
		if strings.Contains(l, models.DFCToken) {
			found = true
			break
		}
	}
	if !found {
		return absent
	}

	return models.Card{
		Kind:   models.DirectoryFileCard,
		Exists: true,
		YAML:   strings.TrimRight(strings.Join(body, "\n"), " \t\n"),
		Start:  first + 2,
		End:    closing,
	}
}

func firstNonBlank(lines []string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i
		}
	}
	return -1
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
