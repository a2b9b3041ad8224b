// Package errs defines the structured error taxonomy shared by every
// component of the controller.
package errs

import "fmt"

// Code classifies the kind of failure a component reports.
type Code string

const (
	CodeNotFound      Code = "not_found"
	CodeValidation    Code = "validation"
	CodeExternal      Code = "external"
	CodeIO            Code = "io"
	CodeHealthFailure Code = "health_failure"
	CodeConflict      Code = "conflict"
	CodeCorrupt       Code = "corrupt"
)

// Error is a structured error carrying a Code, the owning Domain (usually a
// package or component name), a human message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Domain  string
	Message string
	Cause   error
}

// New builds an *Error. cause may be nil.
func New(code Code, domain, message string, cause error) *Error {
	return &Error{Code: code, Domain: domain, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Domain, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Domain, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on Code alone, so callers can write
// errors.Is(err, errs.New(errs.CodeNotFound, "", "", nil)) or more idiomatically
// compare against one of the sentinel helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NotFound, Validation, External, IO, HealthFailure, Conflict and Corrupt
// build an *Error of the matching code for the given domain; each is
// shorthand for New with that code.
func NotFound(domain, message string, cause error) *Error {
	return New(CodeNotFound, domain, message, cause)
}

func Validation(domain, message string, cause error) *Error {
	return New(CodeValidation, domain, message, cause)
}

func External(domain, message string, cause error) *Error {
	return New(CodeExternal, domain, message, cause)
}

func IO(domain, message string, cause error) *Error {
	return New(CodeIO, domain, message, cause)
}

func HealthFailure(domain, message string, cause error) *Error {
	return New(CodeHealthFailure, domain, message, cause)
}

func Conflict(domain, message string, cause error) *Error {
	return New(CodeConflict, domain, message, cause)
}

func Corrupt(domain, message string, cause error) *Error {
	return New(CodeCorrupt, domain, message, cause)
}

// Is reports whether err carries the given code, anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code == code {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
