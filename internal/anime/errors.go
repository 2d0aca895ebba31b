package anime

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstream indicates the provider was unreachable or answered with a non-success status.
	ErrUpstream = errors.New("anime: upstream error")
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("anime: upstream rate limited")
	// ErrNotFound indicates the provider confirmed it has no such record.
	ErrNotFound = errors.New("anime: not found")
	// ErrValidation indicates a caller supplied parameter is out of contract.
	ErrValidation = errors.New("anime: invalid parameter")
	// ErrAllProvidersFailed indicates every configured adapter failed and no cached result exists.
	ErrAllProvidersFailed = errors.New("anime: all providers failed")
	// ErrCredentialsMissing indicates an adapter was configured without its required credential.
	ErrCredentialsMissing = errors.New("anime: provider credentials missing")
)

// UpstreamError carries provider context for a failed upstream call.
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ValidationError describes which parameter was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// retryAfter extracts the provider supplied backoff hint, if any.
func retryAfter(err error) time.Duration {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.RetryAfter
	}
	return 0
}
