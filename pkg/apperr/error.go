// Package apperr defines the error taxonomy used across the qualification
// engine: MalformedInput, ResourceFailure, ConfigurationError,
// Cancelled, and InvariantViolation, each carrying a component-specific code.
package apperr

import (
	"errors"
	"fmt"
)

// Class is one of the five top-level error classes from the propagation policy.
type Class string

const (
	ClassMalformedInput    Class = "MALFORMED_INPUT"    // recovered locally, counted and continued
	ClassResourceFailure   Class = "RESOURCE_FAILURE"   // file- or batch-level fatal depending on scope
	ClassConfigurationError Class = "CONFIGURATION_ERROR" // fatal before any work begins
	ClassCancelled         Class = "CANCELLED"          // graceful stop
	ClassInvariantViolation Class = "INVARIANT_VIOLATION" // should never happen; fatal, no partial writes
)

// Component-specific error codes used across the core packages.
const (
	CodeInvalidAddress    = "INVALID_ADDRESS"
	CodeDuplicateEntry    = "DUPLICATE_ENTRY"
	CodeNotFound          = "NOT_FOUND"
	CodeMalformedEntry    = "MALFORMED_ENTRY"
	CodeHistoryEmpty      = "HISTORY_EMPTY"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeMalformedMetadata = "MALFORMED_METADATA"
	CodeCacheCorrupt      = "CACHE_CORRUPT"
	CodeReadError         = "READ_ERROR"
	CodeInvalidConfig     = "INVALID_CONFIG"
)

// AppError is a structured, wrapped error carrying a taxonomy class, a
// component code, and free-form details for diagnostics.
type AppError struct {
	Class   Class
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Class, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Class, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// New builds a bare AppError.
func New(class Class, code, message string) *AppError {
	return &AppError{Class: class, Code: code, Message: message}
}

// Wrap builds an AppError around an underlying cause.
func Wrap(err error, class Class, code, message string) *AppError {
	return &AppError{Class: class, Code: code, Message: message, Err: err}
}

// --- Component-specific constructors ---

// InvalidAddress is returned by the normalizer/validator.
func InvalidAddress(address, reason string) *AppError {
	return New(ClassMalformedInput, CodeInvalidAddress, reason).WithDetail("address", address)
}

// DuplicateEntry is returned by the blocklist service.
func DuplicateEntry(target string) *AppError {
	return New(ClassMalformedInput, CodeDuplicateEntry, fmt.Sprintf("already present: %s", target)).
		WithDetail("target", target)
}

// NotFound is returned by the blocklist service and metadata store.
func NotFound(target string) *AppError {
	return New(ClassMalformedInput, CodeNotFound, fmt.Sprintf("not found: %s", target)).
		WithDetail("target", target)
}

// MalformedEntry is returned while importing blocklist log rows.
func MalformedEntry(row int, reason string) *AppError {
	return New(ClassMalformedInput, CodeMalformedEntry, reason).WithDetail("row", row)
}

// HistoryEmpty is returned by undo_last/redo_last when the ring buffer has
// nothing to replay.
func HistoryEmpty() *AppError {
	return New(ClassMalformedInput, CodeHistoryEmpty, "history buffer is empty")
}

// StoreUnavailable is a ResourceFailure from the metadata store.
func StoreUnavailable(operation string, err error) *AppError {
	return Wrap(err, ClassResourceFailure, CodeStoreUnavailable, fmt.Sprintf("store unavailable during %s", operation))
}

// MalformedMetadata is returned when a metadata row fails validation.
func MalformedMetadata(address, reason string) *AppError {
	return New(ClassMalformedInput, CodeMalformedMetadata, reason).WithDetail("address", address)
}

// CacheCorrupt is a ResourceFailure wrapping a failed processing-cache store
// call. Raising it does not rebuild the cache.
func CacheCorrupt(reason string, err error) *AppError {
	return Wrap(err, ClassResourceFailure, CodeCacheCorrupt, reason)
}

// ReadError is a recoverable per-record reader failure.
func ReadError(path string, row int, cause error) *AppError {
	return Wrap(cause, ClassMalformedInput, CodeReadError, "failed to read record").
		WithDetail("path", path).
		WithDetail("row", row)
}

// InvalidConfig is a ConfigurationError raised before any Smart Filter I/O begins.
func InvalidConfig(whichCheck string) *AppError {
	return New(ClassConfigurationError, CodeInvalidConfig, fmt.Sprintf("invalid filter config: %s", whichCheck)).
		WithDetail("check", whichCheck)
}

// Cancelled marks a run stopped by external cancellation.
func Cancelled(stage string) *AppError {
	return New(ClassCancelled, "CANCELLED", fmt.Sprintf("run cancelled during %s", stage))
}

// InvariantViolation marks a should-never-happen condition. Callers must
// not attempt any partial write after receiving one of these.
func InvariantViolation(message string) *AppError {
	return New(ClassInvariantViolation, "INVARIANT_VIOLATION", message)
}

// --- Introspection helpers ---

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, ClassResourceFailure, "UNKNOWN", "unclassified error")
}

func ClassOf(err error) Class {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	return ClassResourceFailure
}
