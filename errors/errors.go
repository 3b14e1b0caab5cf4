// Package errors provides standardized error handling for previewsync
// components. It includes error classification, standard error variables,
// and helper functions for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or misuse of the API
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Connection lifecycle errors
	ErrConnectInProgress     = errors.New("connection attempt already in progress")
	ErrAlreadyConnected      = errors.New("already connected")
	ErrNotConnected          = errors.New("not connected")
	ErrConnectionClosed      = errors.New("connection closed")
	ErrConnectionLost        = errors.New("connection lost")
	ErrMaxReconnectsExceeded = errors.New("maximum reconnect attempts exceeded")

	// Offline queue errors
	ErrQueueFull = errors.New("offline queue full")

	// Export lifecycle errors
	ErrExportInProgress = errors.New("export already in progress")
	ErrNoActiveExport   = errors.New("no active export")
	ErrExportCancelled  = errors.New("export cancelled")

	// Protocol errors
	ErrInvalidEnvelope    = errors.New("invalid envelope")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// State container errors
	ErrNilAction         = errors.New("nil action")
	ErrReentrantDispatch = errors.New("reentrant dispatch from observer")

	// Registry errors
	ErrProviderExists   = errors.New("provider already registered")
	ErrProviderNotFound = errors.New("provider not found")
	ErrRegistryClosed   = errors.New("registry closed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Check for known transient errors
	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	// Check for known fatal errors
	if errors.Is(err, ErrMaxReconnectsExceeded) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrRegistryClosed) {
		return true
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or API misuse
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	// Check for known invalid errors
	if errors.Is(err, ErrConnectInProgress) ||
		errors.Is(err, ErrExportInProgress) ||
		errors.Is(err, ErrInvalidEnvelope) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrNilAction) ||
		errors.Is(err, ErrReentrantDispatch) ||
		errors.Is(err, ErrProviderExists) ||
		errors.Is(err, ErrProviderNotFound) {
		return true
	}

	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error.
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
