// Package errs defines the error taxonomy shared by the analysis pipeline.
//
// Callers wrap these sentinels with fmt.Errorf("...: %w", ...) and test
// them with errors.Is.
package errs

import "errors"

var (
	// ErrValidation marks malformed input to a core operation.
	ErrValidation = errors.New("validation error")
	// ErrUpstreamUnavailable marks an unreachable or rate-limited dependency. Retryable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamAuth marks rejected credentials. Never retried.
	ErrUpstreamAuth = errors.New("upstream authentication failure")
	// ErrParse marks structured output that could not be decoded.
	ErrParse = errors.New("structured output parse failure")
	// ErrSessionGone marks an operation against an expired or wiped session.
	ErrSessionGone = errors.New("session gone")
)

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrParse)
}
