package apperr

import (
	"errors"
	"net/http"
)

const (
	CodeInvalidRequest = "invalid_request"
	CodeValidation     = "validation_failed"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeConflict       = "conflict"
	CodeServerError    = "server_error"
)

// Error is a domain failure with a stable snake_case code. Fields holds per-field
// messages for validation failures.
type Error struct {
	Code   string
	Status int
	Fields map[string]string
}

func (e *Error) Error() string {
	return e.Code
}

func New(status int, code string) *Error {
	return &Error{Code: code, Status: status}
}

func BadRequest(code string) *Error {
	return &Error{Code: code, Status: http.StatusBadRequest}
}

func NotFound(code string) *Error {
	return &Error{Code: code, Status: http.StatusNotFound}
}

func Conflict(code string) *Error {
	return &Error{Code: code, Status: http.StatusConflict}
}

func Forbidden(code string) *Error {
	return &Error{Code: code, Status: http.StatusForbidden}
}

func Validation(fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusUnprocessableEntity, Fields: fields}
}

// As unwraps err into an *Error when it is one.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
