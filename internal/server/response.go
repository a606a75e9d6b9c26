// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aplane-algo/jsvm/internal/scripting"
	"github.com/aplane-algo/jsvm/internal/threaded"
)

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind, e.g. "protocol_violation"
	Message string `json:"message"` // human-readable detail
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// statusFor maps a domain error to an HTTP status and error kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrTooManySessions):
		return http.StatusTooManyRequests, "too_many_sessions"
	case errors.Is(err, scripting.ErrClosed):
		return http.StatusGone, "closed"
	case errors.Is(err, threaded.ErrAttached):
		return http.StatusConflict, "attached"
	case errors.Is(err, threaded.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, threaded.ErrProtocol):
		return http.StatusConflict, "protocol_violation"
	case errors.Is(err, threaded.ErrTerminated):
		return http.StatusConflict, "terminated"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "An internal error occurred"
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: msg})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// maxBodyBytes bounds request bodies (sources and responses).
const maxBodyBytes = 4 << 20
