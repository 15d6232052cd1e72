// Package apierr pairs an HTTP status and a stable machine-readable code
// with the underlying error, so handlers can map pipeline failures onto
// transport responses in one place.
package apierr

import "fmt"

// Error is the transport-facing classification of a failure. Code is what
// clients switch on; the wrapped error is for logs, never for responses.
type Error struct {
	Status int
	Code   string
	Err    error
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.Code != "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("api error (status %d)", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }
