// Package engineerr provides the symbolic error taxonomy used at the flow
// engine boundary (spec: exit/error codes are symbolic, not numeric).
package engineerr

import "fmt"

// Code is a symbolic engine-boundary error code.
type Code string

const (
	CodeOK                Code = "OK"
	CodeNotFound          Code = "NotFound"
	CodeInvalidTransition Code = "InvalidTransition"
	CodeUnknownFlowType   Code = "UnknownFlowType"
	CodeConflict          Code = "Conflict"
	CodeCatalogDrift      Code = "CatalogDrift"
	CodeEngineError       Code = "EngineError"

	// Invariant-violation codes (spec §7, §9).
	CodeDuplicateRegistration Code = "DuplicateRegistration"
	CodeConflictingWrite      Code = "ConflictingWrite"
	CodeBranchSelectionFailed Code = "BranchSelectionFailed"
	CodeBranchNestingExceeded Code = "BranchNestingExceeded"
)

// Error is the engine's structured error type. It intentionally carries no
// HTTP status: the engine boundary does not own a transport (spec.md §1
// places HTTP/API transport out of scope).
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an *Error wrapping an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, else
// CodeEngineError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return CodeEngineError
}

// as is a tiny local errors.As to avoid importing the stdlib errors package
// just for this one call site at every caller.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func NotFound(resource, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func InvalidTransition(message string) *Error {
	return New(CodeInvalidTransition, message)
}

func UnknownFlowType(flowType string) *Error {
	return New(CodeUnknownFlowType, fmt.Sprintf("unknown flow type %q", flowType))
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func CatalogDrift(stepName string) *Error {
	return New(CodeCatalogDrift, fmt.Sprintf("catalog drift: %s", stepName))
}

func Internal(message string, err error) *Error {
	return Wrap(CodeEngineError, message, err)
}
