// Package models defines the domain types for Carta.
package models

// CardKind identifies which metadata card a span holds.
type CardKind string

// Card kinds.
const (
	SingleFileCard    CardKind = "sfc"
	DirectoryFileCard CardKind = "dfc"
)

// Marker tokens that identify a card payload.
const (
	SFCToken = "@SFC"
	DFCToken = "@DFC"
)

// Card is a metadata block embedded in the leading region of a file.
// Start and End are 1-indexed, inclusive line numbers of the payload.
type Card struct {
	Kind   CardKind `json:"-"`
	Exists bool     `json:"exists"`
	YAML   string   `json:"yaml,omitempty"`
	Start  int      `json:"start,omitempty"`
	End    int      `json:"end,omitempty"`
}

// Detail returns the wire form of a present card, or nil.
func (c Card) Detail() *CardDetail {
	if !c.Exists {
		return nil
	}
	return &CardDetail{YAML: c.YAML, Start: c.Start, End: c.End}
}

// EditBlock is a named region bounded by LLM-EDIT BEGIN/END marker lines.
// Start and End bound the content strictly between the markers; an empty
// block has End == Start-1.
type EditBlock struct {
	ID            string
	BeginLine     int
	EndMarkerLine int
	Start         int
	End           int
	Content       string
}

// Empty reports whether no lines sit between the markers.
func (b EditBlock) Empty() bool {
	return b.End < b.Start
}

// BlockInfo is the listing form of an edit block.
type BlockInfo struct {
	BlockID string `json:"blockId"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Hash    string `json:"hash"`
}

// FileEntry is one file in a scan result.
type FileEntry struct {
	Path       string          `json:"path"`
	SFC        Card            `json:"sfc"`
	DFC        Card            `json:"dfc"`
	EditBlocks []BlockInfo     `json:"editBlocks"`
	SHA256     string          `json:"sha256"`
	Generated  *GeneratedCards `json:"generated,omitempty"`
}

// GeneratedCards flags which cards a scan suggested for a file.
type GeneratedCards struct {
	SFC bool `json:"sfc,omitempty"`
	DFC bool `json:"dfc,omitempty"`
}

// CardDetail is a present card as returned by a card lookup.
type CardDetail struct {
	YAML  string `json:"yaml"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// CardsResult is the response of a single-file card lookup.
type CardsResult struct {
	Path   string                      `json:"path"`
	SHA256 string                      `json:"sha256"`
	SFC    *CardDetail                 `json:"sfc,omitempty"`
	DFC    *CardDetail                 `json:"dfc,omitempty"`
	Fields map[CardKind]map[string]any `json:"fields,omitempty"`
}

// ReadRecord is one entry of the read audit log.
type ReadRecord struct {
	ID     string `json:"id"`
	TS     string `json:"ts"`
	RunID  string `json:"runId"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}
