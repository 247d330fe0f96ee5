// Package handlers implements the API operations and the raw HLS delivery
// routes.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hlsvault/hlsvault/internal/models"
)

// apiError converts a tagged domain error into the matching huma status
// error. Untagged errors surface as 500.
func apiError(err error) error {
	switch models.KindOf(err) {
	case models.KindNotFound:
		return huma.Error404NotFound(err.Error())
	case models.KindConflict:
		return huma.Error409Conflict(err.Error())
	case models.KindConfigInvalid:
		return huma.Error400BadRequest(err.Error())
	case models.KindAccountUnavailable:
		return huma.Error503ServiceUnavailable(err.Error())
	case models.KindFetchTimeout, models.KindFetchFailed:
		return huma.Error502BadGateway(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}

// statusForKind maps a tagged domain error to an HTTP status for the raw
// routes that bypass huma.
func statusForKind(err error) int {
	switch models.KindOf(err) {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindConfigInvalid:
		return http.StatusBadRequest
	case models.KindAccountUnavailable:
		return http.StatusServiceUnavailable
	case models.KindFetchTimeout, models.KindFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError emits a JSON error body on a raw route. The "error" field
// carries the machine-readable kind; "detail" is free text.
func writeError(w http.ResponseWriter, err error) {
	kind := string(models.KindOf(err))
	if kind == "" {
		kind = "INTERNAL"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error":  kind,
		"detail": err.Error(),
	})
}

// writeJSON emits a JSON body on a raw route.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
