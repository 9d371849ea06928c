// Package handler exposes the offline adapter as a JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// envelope is the body of every JSON response: data on success, error
// (plus problems for validation failures) otherwise.
type envelope struct {
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

// writeErr maps adapter errors onto status codes. Anything that is neither
// a validation failure nor a missing record is a local storage fault.
func writeErr(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "validation failed", Problems: ve.Problems})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrRemoteUnavailable), errors.Is(err, model.ErrSessionNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// parseRange reads optional start/end query parameters. Missing values are
// zero, which the adapter treats as open bounds.
func parseRange(r *http.Request) (start, end time.Time, ok bool) {
	var err error
	if s := r.URL.Query().Get("start"); s != "" {
		if start, err = parseFlexibleTime(s); err != nil {
			return start, end, false
		}
	}
	if s := r.URL.Query().Get("end"); s != "" {
		if end, err = parseFlexibleTime(s); err != nil {
			return start, end, false
		}
	}
	return start, end, true
}
