// Package domainerrors provides coded errors for the governance core.
//
// Services return these so transport layers can map outcomes to responses
// without string matching. Infrastructure layers return pkg/platform/sentinel
// errors instead; services translate at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	// CodeBadRequest marks malformed or unparsable input.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput marks input that parsed but failed validation at a
	// trust boundary (IDs, enums).
	CodeInvalidInput Code = "invalid_input"
	// CodeValidation marks a domain validation failure (missing fields,
	// unsatisfiable request such as erasure of an unenrolled client).
	CodeValidation Code = "validation_failed"
	// CodeUnauthorized marks missing or invalid authentication.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks a denied authorization decision. Messages carried
	// under this code are deliberately generic: the caller must not learn
	// whether a block, a missing role, or a boundary exclusion denied them.
	CodeForbidden Code = "forbidden"
	// CodeNotFound is used uniformly for true absence and for records the
	// confidentiality boundary excludes, so the two are indistinguishable.
	CodeNotFound Code = "not_found"
	// CodeConflict marks decisions against already-terminal state, e.g. an
	// approval submitted for a resolved erasure request.
	CodeConflict Code = "conflict"
	// CodeAuditWriteFailed marks a durable audit append that did not
	// complete. The triggering operation is retriable with the same id.
	CodeAuditWriteFailed Code = "audit_write_failed"
	// CodeInvariantViolation marks programming or configuration errors such
	// as attempted self-approval or a confidential downgrade. Surfaced
	// loudly, never silently corrected.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable marks a dependency that is temporarily down.
	CodeUnavailable Code = "unavailable"
	// CodeInternal is the catch-all for unexpected failures.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. It may wrap an underlying cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches coded errors by value so errors.Is works against a freshly
// constructed target, ignoring the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is shorthand for HasCode, matching the call sites that read better as
// dErrors.Is(err, dErrors.CodeNotFound).
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so transport mapping always fails closed.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message, empty for uncoded errors.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// Retriable reports whether the caller may safely retry the same operation
// with the same identifiers. Erasure execution is idempotent, so audit write
// failures and transient unavailability are retriable.
func Retriable(err error) bool {
	switch CodeOf(err) {
	case CodeAuditWriteFailed, CodeUnavailable:
		return true
	}
	return false
}
