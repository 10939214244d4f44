// Package handler is the HTTP transport of the messenger: it decodes JSON
// requests, calls exactly one service operation, and encodes the outcome.
//
// Handlers contain no authorization logic. Who may read a chat, post to it
// or rotate a token is decided by the service layer; a handler only turns the
// resulting error kind into a status code.
package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "wrong_chat_secret", "message": "wrong secret for chat c1"}
//
// "error" is a stable machine-readable code: the domain error kind when there
// is one (user_not_member, chat_not_found, ...), otherwise the category
// (validation_error, not_found, ...). Clients branch on it; "message" is for
// humans.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/auth"
	"github.com/sakif/messenger/internal/model"
)

// maxBodyBytes caps request bodies. The largest legitimate body is a message
// of 1024 characters.
const maxBodyBytes = 64 << 10

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable code (e.g., "user_not_member")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE the body is written.
// Once Encode writes, the headers are on the wire.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error category to its HTTP status.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	anything else   → 500
//
// errors.Is walks the whole chain, so a domain kind such as ErrChatNotFound
// (which unwraps to ErrNotFound) maps to 404 without being listed here.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps a service error to a status code and sends it.
//
// Unknown errors become a generic 500. Their text is logged, never sent:
// it may contain SQL, file paths or other internals.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)

	var appErr *apperror.AppError
	if status == http.StatusInternalServerError || !errors.As(err, &appErr) {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="messenger"`)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   apperror.Code(err),
		Message: appErr.Message,
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Malformed JSON, unknown fields and oversized bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be %d bytes or fewer", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body: "+strings.TrimPrefix(err.Error(), "json: "))
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}

// currentUser returns the user RequireAuth attached to the request.
func currentUser(r *http.Request) (*model.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, apperror.Unauthorized("authentication required")
	}
	return user, nil
}
