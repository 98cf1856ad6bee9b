package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is reported when the upstream throttles a request.
	ErrRateLimited = errors.New("catalog: rate limited")
	// ErrUnavailable is reported for network failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("catalog: source unavailable")
	// ErrNotFound is reported when an id or ISBN lookup has no result.
	ErrNotFound = errors.New("catalog: not found")
)

// RateLimitError carries the server's Retry-After hint, if it sent one.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s)", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Source)
}

// Unwrap makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter returns the server hint carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// CandidateError attaches a candidate identifier to an error so batch
// reports can name the record without parsing messages.
type CandidateError struct {
	// The underlying error that occurred
	Err error
	// The candidate identifier, see models.Candidate.Identifier
	Candidate string
}

// Error implements the error interface
func (e *CandidateError) Error() string {
	if e.Candidate != "" {
		return fmt.Sprintf("%s (candidate: %s)", e.Err.Error(), e.Candidate)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *CandidateError) Unwrap() error {
	return e.Err
}

// WithCandidate wraps an error with a candidate identifier
func WithCandidate(err error, candidate string) error {
	if err == nil {
		return nil
	}
	return &CandidateError{
		Err:       err,
		Candidate: candidate,
	}
}

// GetCandidate returns the candidate identifier from an error if it's a CandidateError
func GetCandidate(err error) (string, bool) {
	var ce *CandidateError
	if errors.As(err, &ce) {
		return ce.Candidate, ce.Candidate != ""
	}
	return "", false
}

// IsRetryable reports whether err is a rate-limit signal worth one retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
