// Package errs provides the unified error type used across all of PHA.
//
// Every subsystem (querygen, database drivers, filestore, server, …) wraps
// its failures into *errs.Error before returning them. Callers use the Is*
// predicates, or Kind, to turn an outcome into a response without importing
// driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", pgErr)
//
//	// In a handler, check the error kind:
//	if errs.IsNoPatientTable(err) {
//	    w.WriteHeader(http.StatusUnprocessableEntity)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no object, unknown connection
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindConflict                 // name already taken, or not changeable at runtime

	// Query generation failures. None carries partial results.
	ErrKindSchema           // empty schema, unknown dialect, duplicate names, ambiguous root
	ErrKindInvalidQueryType // query_type outside basic/clinical/comprehensive/billing
	ErrKindInvalidLimit     // limit <= 0
	ErrKindNoPatientTable   // no table classified as patient root
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindConflict:
		return "conflict"
	case ErrKindSchema:
		return "schema_error"
	case ErrKindInvalidQueryType:
		return "invalid_query_type"
	case ErrKindInvalidLimit:
		return "invalid_limit"
	case ErrKindNoPatientTable:
		return "no_patient_table"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all PHA subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsConflict reports whether err rejects a change that clashes with
// existing state.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindConflict
}

// IsSchema reports whether err rejects the unified schema itself.
func IsSchema(err error) bool {
	return KindOf(err) == ErrKindSchema
}

func IsInvalidQueryType(err error) bool {
	return KindOf(err) == ErrKindInvalidQueryType
}

func IsInvalidLimit(err error) bool {
	return KindOf(err) == ErrKindInvalidLimit
}

func IsNoPatientTable(err error) bool {
	return KindOf(err) == ErrKindNoPatientTable
}

// IsGeneration reports whether err is one of the query generation kinds.
func IsGeneration(err error) bool {
	switch KindOf(err) {
	case ErrKindSchema, ErrKindInvalidQueryType, ErrKindInvalidLimit, ErrKindNoPatientTable:
		return true
	}
	return false
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// MessageOf returns the caller-facing message of err: the *Error message when
// present, otherwise err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
