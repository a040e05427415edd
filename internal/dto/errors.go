package dto

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat marks input whose shape cannot be parsed, such as an unknown CSV header.
	ErrFormat = errors.New("unrecognized input format")
	// ErrInsufficientData is returned when a series is too short for a computation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrRateLimitExceeded is returned when the provider request budget is spent.
	ErrRateLimitExceeded = errors.New("provider rate limit exceeded")
	// ErrProvider is the target every *ProviderError unwraps to.
	ErrProvider                 = errors.New("provider error")
	ErrEmptyTrainingSet         = errors.New("empty training set")
	ErrNoValidDataAfterCleaning = errors.New("no valid data after cleaning")
	ErrModelNotTrained          = errors.New("model not trained")
	ErrArtifactNotFound         = errors.New("model artifact not found")
	ErrNotFound                 = errors.New("record not found")
)

// ProviderError describes a failed provider call: a non-success status, an
// explicit error payload or a rate-limit note in an otherwise successful response.
type ProviderError struct {
	Provider   string
	Symbol     string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s returned an error for %s (status %d): %s", e.Provider, e.Symbol, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

// Retryable reports whether the failure was a server-side status worth retrying.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode >= 500
}

// InsufficientDataError wraps ErrInsufficientData with the counts involved.
func InsufficientDataError(symbol string, have, need int) error {
	return fmt.Errorf("%w: %s has %d bars, need at least %d", ErrInsufficientData, symbol, have, need)
}
