package domain

import (
	"errors"
	"fmt"
)

// Application error codes for infrastructure-level failures. The cart
// engine's business errors have their own taxonomy (see the cart package);
// these codes classify everything underneath it.
const (
	ECONFLICT = "conflict"  // concurrent modification, duplicate row
	EINTERNAL = "internal"  // unexpected failure (hide details)
	EINVALID  = "invalid"   // bad input
	ENOTFOUND = "not_found" // missing resource
	EBUSY     = "busy"      // resource lock could not be acquired in time
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "cart.commit").
	// Used for debugging and logging, not shown to users.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "cart.add", "unknown product: %s", id)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Internal creates an internal error wrapping the underlying cause.
// Example: domain.Internal(err, "store.positions", "failed to list positions")
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("store.voucher", "voucher", code)
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Common store-level sentinel errors.
var (
	// ErrPositionGone signals an update against a cart position that was
	// deleted in the meantime, e.g. by an expiry sweep. Callers that extend
	// reservations treat this as a benign race.
	ErrPositionGone = &Error{Code: ENOTFOUND, Message: "cart position no longer exists"}
)
