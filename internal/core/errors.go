package core

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline error taxonomy. Every failure surfaced by the pipeline wraps
// exactly one of these sentinels so callers can classify without string
// matching.
var (
	// ErrValidation indicates malformed or missing request fields.
	ErrValidation = errors.New("validation failed")
	// ErrProviderAuth indicates the provider rejected the credential.
	ErrProviderAuth = errors.New("provider rejected credential")
	// ErrProviderQuota indicates the credential's quota is exhausted.
	ErrProviderQuota = errors.New("provider quota exhausted")
	// ErrProviderTransport indicates a network or server-side provider failure.
	ErrProviderTransport = errors.New("provider transport failure")
	// ErrMaterialization indicates a merge source could not be fetched or decoded.
	ErrMaterialization = errors.New("source materialization failed")
	// ErrMergeExhausted indicates zero valid sources survived materialization.
	ErrMergeExhausted = errors.New("no valid sources survived")
	// ErrProcessing indicates the media normalization or concatenation step failed.
	ErrProcessing = errors.New("media processing failed")
	// ErrStorage indicates a backend upload, fetch, or delete failed.
	ErrStorage = errors.New("storage operation failed")
	// ErrMetadataConflict indicates a lost update during a catalog read-merge-write.
	ErrMetadataConflict = errors.New("metadata catalog conflict")
	// ErrRotationCancelled indicates the confirmation port aborted credential rotation.
	ErrRotationCancelled = errors.New("credential rotation cancelled")
)

// SynthesisError carries provider-level diagnostics for a failed synthesis
// call. Cause is one of the taxonomy sentinels, possibly wrapped.
type SynthesisError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}

	return e.Provider + ": " + e.Message
}

// Unwrap returns the underlying taxonomy error.
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// NewSynthesisError creates a SynthesisError.
func NewSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// RotationError aggregates a failed walk over a provider's credential list.
// Attempted holds the credential names in the order they were tried; Last is
// the final underlying failure.
type RotationError struct {
	Provider  string
	Attempted []string
	Last      error
}

// Error implements the error interface.
func (e *RotationError) Error() string {
	return fmt.Sprintf(
		"all credentials exhausted for provider %s (tried: %s): %v",
		e.Provider,
		strings.Join(e.Attempted, ", "),
		e.Last,
	)
}

// Unwrap returns the last underlying failure.
func (e *RotationError) Unwrap() error {
	return e.Last
}
