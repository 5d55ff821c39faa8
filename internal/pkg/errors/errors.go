package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it
type Kind int

const (
	// KindNotFound indicates an unknown product, reservation, or order
	KindNotFound Kind = iota
	// KindInvalidTransition indicates a state machine precondition was violated
	KindInvalidTransition
	// KindInvariantViolation indicates an operation would oversell or go negative
	KindInvariantViolation
	// KindTimeout indicates lock contention exceeded its bound; the whole unit may be retried
	KindTimeout
	// KindUnavailable indicates a reserve request that cannot be fully satisfied
	KindUnavailable
	// KindDelivery indicates a lifecycle event could not be published
	KindDelivery
	// KindInternal indicates an unexpected storage or runtime failure
	KindInternal
)

// DomainError is a classified error with a stable code and optional cause
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

// NewNotFound creates a new not-found error
func NewNotFound(code, message string) *DomainError {
	return &DomainError{Kind: KindNotFound, Code: code, Message: message}
}

// NewInvalidTransition creates a new invalid-transition error
func NewInvalidTransition(code, message string) *DomainError {
	return &DomainError{Kind: KindInvalidTransition, Code: code, Message: message}
}

// NewInvariantViolation creates a new invariant-violation error
func NewInvariantViolation(code, message string) *DomainError {
	return &DomainError{Kind: KindInvariantViolation, Code: code, Message: message}
}

// NewTimeout creates a new timeout error
func NewTimeout(code, message string, cause error) *DomainError {
	return &DomainError{Kind: KindTimeout, Code: code, Message: message, Cause: cause}
}

// NewUnavailable creates a new unavailable error
func NewUnavailable(code, message string) *DomainError {
	return &DomainError{Kind: KindUnavailable, Code: code, Message: message}
}

// NewDelivery creates a new delivery error
func NewDelivery(code, message string, cause error) *DomainError {
	return &DomainError{Kind: KindDelivery, Code: code, Message: message, Cause: cause}
}

// NewInternal creates a new internal error
func NewInternal(code, message string, cause error) *DomainError {
	return &DomainError{Kind: KindInternal, Code: code, Message: message, Cause: cause}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a DomainError of the given kind
func IsKind(err error, kind Kind) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsInvalidTransition reports whether err is an invalid-transition error
func IsInvalidTransition(err error) bool { return IsKind(err, KindInvalidTransition) }

// IsInvariantViolation reports whether err is an invariant-violation error
func IsInvariantViolation(err error) bool { return IsKind(err, KindInvariantViolation) }

// IsTimeout reports whether err is a timeout error
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsUnavailable reports whether err is an unavailable error
func IsUnavailable(err error) bool { return IsKind(err, KindUnavailable) }

// IsDelivery reports whether err is a delivery error
func IsDelivery(err error) bool { return IsKind(err, KindDelivery) }
