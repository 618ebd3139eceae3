// Package gwerr defines the gateway's outward error taxonomy.
//
// DESIGN: Every failure that reaches a caller is one of a small set of
// stable codes with an HTTP-equivalent status. Provider-reported API errors
// keep their upstream status (pass-through, not reinterpretation); anything
// else collapses to BadRequest. Raw provider-internal errors never leak.
package gwerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to callers. These are part of the API contract.
const (
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
	CodeForbidden  = "forbidden"
	CodeBadRequest = "bad_request"
	CodeUpstream   = "upstream_error"
)

// Error is the single outward-facing error shape.
type Error struct {
	Code       string `json:"code"`
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Validation flags malformed caller input (tags, payload shape).
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFound flags an unknown model identifier.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, StatusCode: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden flags an ownership or capability violation.
func Forbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, StatusCode: http.StatusForbidden, Message: fmt.Sprintf(format, args...)}
}

// BadRequest is the default dispatch-failure code.
func BadRequest(format string, args ...any) *Error {
	return &Error{Code: CodeBadRequest, StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a provider-reported API error, keeping its status code.
// Status codes outside the 4xx/5xx range are normalized to 502 so a
// misbehaving provider cannot make a failure look like success.
func Upstream(statusCode int, message string) *Error {
	if statusCode < 400 || statusCode > 599 {
		statusCode = http.StatusBadGateway
	}
	return &Error{Code: CodeUpstream, StatusCode: statusCode, Message: message}
}

// Translate maps any error into the outward taxonomy.
// Errors already in the taxonomy pass through unchanged.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return BadRequest("%s", err.Error())
}

// Write renders the stable JSON error object to an HTTP response.
func Write(w http.ResponseWriter, err error) {
	ge := Translate(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": ge.Code, "message": ge.Message},
	})
}
