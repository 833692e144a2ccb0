// Package errors provides custom error types and error handling utilities.
// Following Go idioms, errors are values that carry context about what went wrong.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for the application.
// These can be checked with errors.Is() for specific error handling.
var (
	// ErrNotFound indicates a job id has no registry entry.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a duplicate resource.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidURL indicates an invalid, malformed, or disallowed URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrUnsupportedPlatform indicates the URL's host is not on the whitelist.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrInvalidTemplate indicates a naming template failed validation.
	ErrInvalidTemplate = errors.New("invalid naming template")

	// ErrDependencyMissing indicates the extractor binary could not be found.
	ErrDependencyMissing = errors.New("required dependency not installed")

	// ErrSpawnFailed indicates the OS failed to start the extractor subprocess.
	ErrSpawnFailed = errors.New("failed to start extractor")

	// ErrExitNonZero indicates the extractor subprocess exited with a
	// non-zero code that was not attributable to pause or cancel.
	ErrExitNonZero = errors.New("download interrupted")

	// ErrNoArtifact indicates the extractor exited 0 but left no complete file behind.
	ErrNoArtifact = errors.New("no complete file found")

	// ErrFileSystem indicates a rename/stat/mkdir failure in the orchestrator.
	ErrFileSystem = errors.New("filesystem operation failed")

	// ErrSettingsIO indicates the naming-templates file could not be read or written.
	ErrSettingsIO = errors.New("settings read/write failed")

	// ErrPermissionDenied indicates insufficient permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates the job was cancelled by the caller.
	ErrCancelled = errors.New("operation cancelled")

	// ErrPaused indicates the job is paused; not a failure on the HTTP surface.
	ErrPaused = errors.New("download paused")

	// ErrAuthRequired indicates authentication is required.
	ErrAuthRequired = errors.New("authentication required")
)

// AppError is a structured error type that carries additional context.
type AppError struct {
	Op      string // Operation that failed (e.g., "VideoHandler.GetVideoInfo")
	Err     error  // Underlying error
	Message string // User-friendly message
	Code    string // Error code for frontend handling
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with wrapped errors.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given operation and error.
func New(op string, err error) *AppError {
	return &AppError{
		Op:  op,
		Err: err,
	}
}

// NewWithMessage creates a new AppError with a user-friendly message.
func NewWithMessage(op string, err error, message string) *AppError {
	return &AppError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}

// NewWithCode creates a new AppError with an error code for frontend handling.
func NewWithCode(op string, err error, code string, message string) *AppError {
	return &AppError{
		Op:      op,
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err}
}

// WrapWithMessage wraps an error with a user-friendly message.
func WrapWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err, Message: message}
}

// IsNotFound checks if an error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCancelled checks if an error is a cancellation error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsAuthRequired checks if an error requires authentication.
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// IsPaused checks if an error reflects a paused job.
func IsPaused(err error) bool {
	return errors.Is(err, ErrPaused)
}
