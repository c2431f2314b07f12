package web

// errors.go turns handler errors into JSON responses.
//
// The technical error is logged with the request id; the client gets the
// user-facing message from core.MapError plus its stable code.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/logging"
	"github.com/JonMunkholm/tracker/internal/store"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func newErrorResponse(err error) ErrorResponse {
	msg := core.MapError(err)
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// respondError logs err and writes its mapped message with the status
// derived from statusFor.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := newErrorResponse(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", body.Code,
	)

	writeJSON(w, r, status, body)
}

// badRequest writes a 400 for malformed input that never reached the pipeline.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Warn("bad request", "path", r.URL.Path, "reason", message)
	writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    "REQ001",
	})
}

// statusFor picks the HTTP status for a pipeline or store error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrPackageNotFound),
		errors.Is(err, core.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSourceUnreadable),
		errors.Is(err, core.ErrEmptySource):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
