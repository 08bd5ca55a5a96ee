package gateway

import (
	"errors"
	"fmt"

	"github.com/meadowfold/cattery/store/catalogdb"
)

// Code classifies a mutation failure so callers can render a specific
// message instead of a generic one.
type Code string

const (
	CodeNotFound              Code = "NotFound"
	CodeConflict              Code = "Conflict"
	CodeInvalidReorder        Code = "InvalidReorder"
	CodeDimensionLookupFailed Code = "UpstreamDimensionLookupFailed"
	CodeInternal              Code = "Internal"
)

// Error is the structured error every gateway operation surfaces.
type Error struct {
	Code    Code
	Message string
	err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

func notFoundError(msg string, err error) *Error {
	return &Error{Code: CodeNotFound, Message: msg, err: err}
}

func conflictError(msg string, err error) *Error {
	return &Error{Code: CodeConflict, Message: msg, err: err}
}

func internalError(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, err: err}
}

// wrapStoreError maps store sentinels onto the gateway taxonomy.
func wrapStoreError(what string, err error) *Error {
	switch {
	case errors.Is(err, catalogdb.ErrNotFound):
		return notFoundError(what+" not found", err)
	case errors.Is(err, catalogdb.ErrConflict):
		return conflictError(what+" already exists", err)
	case errors.Is(err, catalogdb.ErrInvalidReorder):
		return &Error{Code: CodeInvalidReorder, Message: "reorder set does not match current gallery", err: err}
	default:
		return internalError(what+": storage failure", err)
	}
}

// CodeOf extracts the taxonomy code from any error, defaulting to Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
