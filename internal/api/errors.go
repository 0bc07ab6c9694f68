// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vodub/vodub/internal/auth"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/service"
	"github.com/vodub/vodub/internal/store"
)

// Error codes carried in every error body.
const (
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeInvalidState      = "invalid_state"
	CodeCannotResume      = "cannot_resume"
	CodeUnauthorized      = "unauthorized"
	CodeSessionExpired    = "session_expired"
	CodeInsufficientSpace = "insufficient_space"
	CodeNotImplemented    = "not_implemented"
	CodeInternal          = "internal"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, Details: details})
}

// writeError maps a domain error onto its HTTP status and error code.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr *service.ValidationError
		serr *service.InvalidStateError
		cerr *service.CannotResumeError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "not found", nil)
	case errors.As(err, &verr):
		writeErrorCode(w, http.StatusBadRequest, CodeValidation, verr.Error(), map[string]string{
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	case errors.As(err, &serr):
		writeErrorCode(w, http.StatusBadRequest, CodeInvalidState, serr.Error(), map[string]string{
			"state": string(serr.Status),
		})
	case errors.As(err, &cerr):
		writeErrorCode(w, http.StatusBadRequest, CodeCannotResume, cerr.Error(), cerr.Diagnostic)
	case errors.Is(err, service.ErrInsufficientSpace):
		writeErrorCode(w, http.StatusServiceUnavailable, CodeInsufficientSpace, err.Error(), nil)
	case errors.Is(err, service.ErrNotImplemented):
		writeErrorCode(w, http.StatusNotImplemented, CodeNotImplemented, "not implemented", nil)
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized", nil)
	case errors.Is(err, auth.ErrSessionExpired):
		writeErrorCode(w, http.StatusUnauthorized, CodeSessionExpired, "session expired", nil)
	default:
		log.L().Error().Err(err).Msg("internal error")
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
