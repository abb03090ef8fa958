// Package httpx holds JSON helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/validation"
	"gorm.io/gorm"
)

// MaxBodyBytes caps request bodies accepted by Decode.
const MaxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			http.Error(w, `{"error":"encode_error"}`, http.StatusInternalServerError)
			return
		}
	} else {
		body = []byte("null")
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func JSONError(w http.ResponseWriter, status int, msg string, details any) {
	JSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// StatusError is an error that knows its HTTP status and public code.
type StatusError struct {
	Status int
	Code   string
	Err    error
}

func NewError(status int, code string) *StatusError {
	return &StatusError{Status: status, Code: code}
}

// Wrap attaches a status and code to err.
func Wrap(status int, code string, err error) *StatusError {
	return &StatusError{Status: status, Code: code, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *StatusError) Unwrap() error { return e.Err }

// Error writes err as a JSON error response. Unknown errors become a 500
// without leaking their message.
func Error(w http.ResponseWriter, err error) {
	var statusErr *StatusError
	var violations validation.Violations
	switch {
	case errors.As(err, &violations):
		JSONError(w, http.StatusBadRequest, "validation_failed", violations)
	case errors.As(err, &statusErr):
		JSONError(w, statusErr.Status, statusErr.Code, nil)
	case errors.Is(err, gorm.ErrRecordNotFound):
		JSONError(w, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, ErrBadJSON):
		JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
	default:
		JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

var ErrBadJSON = errors.New("invalid json body")

// Decode reads a single JSON object from r into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrBadJSON)
	}
	return nil
}
