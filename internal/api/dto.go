package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/carta/internal/cardservice"
	"github.com/starford/carta/internal/index"
	"github.com/starford/carta/internal/models"
	"github.com/starford/carta/internal/patch"
)

// PatchRequest is the request body for replacing an edit block.
type PatchRequest struct {
	File       string `json:"file" example:"src/user.ts" validate:"required"`
	BlockID    string `json:"blockId" example:"load-user" validate:"required"`
	OldHash    string `json:"oldHash" example:"9f86d08..." validate:"required"`
	NewContent string `json:"newContent" example:"return db.find(id);"`
	Reason     string `json:"reason,omitempty" example:"use the db directly"`
}

// Validate checks required fields.
func (r PatchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.File, validation.Required),
		validation.Field(&r.BlockID, validation.Required),
		validation.Field(&r.OldHash, validation.Required),
	)
}

func (r PatchRequest) toDomain() patch.Request {
	return patch.Request{
		File:       r.File,
		BlockID:    r.BlockID,
		OldHash:    r.OldHash,
		NewContent: r.NewContent,
		Reason:     r.Reason,
	}
}

// PatchResponse is the result of a successful patch (aliased from the domain layer).
type PatchResponse = patch.Result

// ReadLogRequest is the request body for recording a read (aliased from the domain layer).
type ReadLogRequest = cardservice.ReadLogRequest

// ScanResponse is the scan result (aliased from the domain layer).
type ScanResponse = cardservice.ScanResult

// CardsResponse is a single-file card lookup (aliased from the domain layer).
type CardsResponse = models.CardsResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// BlocksResponse wraps indexed block locations.
type BlocksResponse struct {
	Blocks []index.BlockRow `json:"blocks" validate:"required"`
}

// OKResponse acknowledges a write that returns no data.
type OKResponse struct {
	OK bool `json:"ok" example:"true"`
}
