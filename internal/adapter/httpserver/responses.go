// Package httpserver contains the HTTP request plane: handlers for queue
// inspection, health, pipeline metrics, error analytics, and queue
// management, plus shared middleware.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

type errorEnvelope struct {
	Error     apiError  `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrCorrupted):
		code = http.StatusUnprocessableEntity
		codeStr = "CORRUPTED"
	case errors.Is(err, domain.ErrTransient):
		code = http.StatusServiceUnavailable
		codeStr = "BACKEND_UNAVAILABLE"
	case errors.Is(err, domain.ErrFatal):
		codeStr = "FATAL"
	}
	writeJSON(w, code, errorEnvelope{
		Error:     apiError{Code: codeStr, Message: err.Error(), Details: details},
		Timestamp: time.Now().UTC(),
	})
}
