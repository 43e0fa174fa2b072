package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/carta/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string         `json:"error" validate:"required"`
	Code    string         `json:"code,omitempty" example:"STALE_BLOCK"`
	Details map[string]any `json:"details,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindStaleBlock:
		return http.StatusConflict
	case apperr.KindReadOnly:
		return http.StatusForbidden
	case apperr.KindPathEscape, apperr.KindOutOfBoundWrite, apperr.KindInvalidParams:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindBlockNotFound:
		return http.StatusNotFound
	case apperr.KindUnsupportedMode:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status of its kind. Internal failures
// are logged and reported without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errResponse{Error: "internal error", Code: string(kind)})
		return
	}
	body := errResponse{Error: err.Error(), Code: string(kind)}
	var e *apperr.Error
	if errors.As(err, &e) && len(e.Data) > 0 {
		body.Details = e.Data
	}
	writeJSON(w, status, body)
}
