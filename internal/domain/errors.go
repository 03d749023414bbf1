package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while building or sampling rankings.
var (
	// ErrInvalidWeights indicates that a WeightVector cannot be sampled from:
	// it is empty, contains a negative or non-finite entry, or sums to zero.
	// It is raised before any sampling begins and must not be retried
	// without correcting the input.
	ErrInvalidWeights = errors.New("invalid weights")

	// ErrDegenerateDistribution indicates that the remaining probability mass
	// collapsed to zero (or NaN) while positive-weight items were still
	// unplaced. It signals an implementation defect, never a runtime condition.
	ErrDegenerateDistribution = errors.New("degenerate distribution")

	// ErrInvalidItems indicates that an ItemSet is empty or has empty or
	// duplicate labels.
	ErrInvalidItems = errors.New("invalid items")

	// ErrInvalidRanking indicates that a Ranking is not a permutation of the
	// expected index set or has the wrong width.
	ErrInvalidRanking = errors.New("invalid ranking")

	// ErrUnknownMetric indicates that a distance metric name is not recognized.
	ErrUnknownMetric = errors.New("unknown distance metric")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBatchSealed indicates an attempt to append to a completed RankingBatch.
	ErrBatchSealed = errors.New("ranking batch is sealed")
)

// SamplingError represents a failure while generating the ranking of a
// single synthetic assessor. The batch harness aborts on the first one.
type SamplingError struct {
	// Assessor is the zero-based index of the assessor whose ranking failed.
	Assessor int

	// Err is the underlying error that caused sampling to fail.
	Err error
}

// Error implements the error interface for SamplingError.
func (e *SamplingError) Error() string {
	return fmt.Sprintf("sampling error: assessor=%d, err=%v", e.Assessor, e.Err)
}

// Unwrap returns the underlying error, supporting Go 1.13+ error unwrapping.
func (e *SamplingError) Unwrap() error { return e.Err }

// NewSamplingError creates a new SamplingError with the given details.
func NewSamplingError(assessor int, err error) *SamplingError {
	return &SamplingError{
		Assessor: assessor,
		Err:      err,
	}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap lets callers match validation failures against ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
