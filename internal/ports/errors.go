package ports

import (
	"errors"
	"fmt"
	"time"
)

// Common infrastructure errors that can occur during interactions with the
// external fitter, the batch archive and configuration sources.
var (
	// ErrRateLimited indicates that the fitter backend rejected the request
	// because too many fits are in flight.
	ErrRateLimited = errors.New("rate limited")

	// ErrFitterUnavailable indicates that the fitter backend is unavailable.
	ErrFitterUnavailable = errors.New("fitter unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidFit indicates that the fitter returned an unusable posterior.
	ErrInvalidFit = errors.New("invalid posterior fit")

	// ErrBatchNotFound indicates that no archived batch exists for an ID.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// FitterError represents an error from a rank-aggregation fitter backend.
// It includes details about the backend, operation, and any back-off hint.
type FitterError struct {
	// Backend is the identifier of the fitter backend that failed.
	Backend string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error that occurred.
	Err error

	// RetryAfter indicates how long to wait before retrying, if applicable.
	RetryAfter *time.Duration
}

// Error implements the error interface for FitterError.
func (e *FitterError) Error() string {
	msg := fmt.Sprintf("fitter error: backend=%s, operation=%s, err=%v", e.Backend, e.Operation, e.Err)
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(", retry_after=%v", *e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *FitterError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is temporary and the fit can be
// attempted again. Invalid input and invalid fits are never retryable.
func (e *FitterError) IsRetryable() bool {
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrFitterUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewFitterError creates a new FitterError with the given details.
func NewFitterError(backend, operation string, err error) *FitterError {
	return &FitterError{
		Backend:   backend,
		Operation: operation,
		Err:       err,
	}
}

// IsRetryable reports whether err carries a retryable FitterError.
func IsRetryable(err error) bool {
	var fe *FitterError
	return errors.As(err, &fe) && fe.IsRetryable()
}

// StoreError represents an error from batch archive operations.
// It includes the key and operation that failed.
type StoreError struct {
	// Key is the batch or experiment identifier involved in the failure.
	Key string

	// Operation is the name of the store operation that failed.
	Operation string

	// Err is the underlying error that caused the store operation to fail.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(key, operation string, err error) *StoreError {
	return &StoreError{
		Key:       key,
		Operation: operation,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
