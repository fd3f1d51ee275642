// Package handlers exposes the storefront over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/storefront/internal/apperr"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

type responder struct {
	log *slog.Logger

	// details adds the diagnostic error text to error bodies. Off in production.
	details bool
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (rs responder) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rs.log.Error("failed to encode JSON response", "error", err)
	}
}

func (rs responder) respondMessage(w http.ResponseWriter, status int, message string) {
	rs.respondJSON(w, status, errorResponse{Error: message})
}

// respondError maps err to a status through its apperr kind. Server faults are
// logged with the full error; the client only sees the safe message.
func (rs responder) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	if status >= http.StatusInternalServerError {
		rs.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", kind.String(), "error", err)
	} else {
		rs.log.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "kind", kind.String(), "error", err)
	}

	body := errorResponse{Error: apperr.MessageOf(err)}
	if rs.details {
		body.Details = err.Error()
	}
	rs.respondJSON(w, status, body)
}

func (rs responder) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rs.respondMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		rs.respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.Validation("handlers.idParam", "Invalid "+name)
	}
	return id, nil
}
