// Package domainerrors carries machine-readable error codes from services to
// transports. A Code doubles as the public error_codename seen by clients, so
// codes are part of the API and must not be renamed.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	// Infrastructure and generic codes.
	CodeInternal   Code = "internal_error"
	CodeConflict   Code = "conflict"
	CodeTimeout    Code = "timeout"
	CodeNotFound   Code = "not_found"
	CodeBadRequest Code = "bad_request"

	// Admin API.
	CodeUnauthorized Code = "unauthorized"
	CodeInvalidInput Code = "invalid_input"

	// Input shape errors.
	CodeNotJSON              Code = "not_json"
	CodeInvalidKeyConstraint Code = "invalid_key_constraint"
	CodeUnknownKeys          Code = "unknown_keys"

	// Policy errors returned by pipeline steps and the voter state machine.
	CodeAlreadyVoted     Code = "already_voted"
	CodeBlacklisted      Code = "blacklisted"
	CodeWaitDay          Code = "wait_day"
	CodeWaitHour         Code = "wait_hour"
	CodeWaitExpire       Code = "wait_expire"
	CodeSMSNotSent       Code = "sms_notsent"
	CodeNeedNewToken     Code = "need_new_token"
	CodeInvalidToken     Code = "invalid_token"
	CodeInvalidHMAC      Code = "invalid_hmac"
	CodeNotAuthenticated Code = "not_authenticated"
)

// Error is a coded error. Field names the offending input key when the error
// was caused by a single request field.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// NewField returns a coded error attributed to an input field.
func NewField(code Code, field, msg string) *Error {
	return &Error{Code: code, Message: msg, Field: field}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// As extracts the outermost *Error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Is reports whether the outermost coded error in err's chain has the given code.
func Is(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// HasCode reports whether any coded error in err's chain has the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		if de, ok := err.(*Error); ok && de.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// ToHTTPStatus maps a code to the HTTP status used by the public API.
// Policy and input errors are all client errors.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInternal:
		return http.StatusInternalServerError
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}
