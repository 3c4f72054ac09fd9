package types

import (
	"context"
	"errors"
)

// Error kinds surfaced by the pipeline. Callers inspect them with errors.Is;
// producers wrap them with fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidInput reports empty, whitespace-only or oversized input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration reports a missing provider or missing credentials.
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstream reports an LLM transport or API failure.
	ErrUpstream = errors.New("upstream error")

	// ErrParse reports an LLM response that is not valid JSON or misses
	// required fields.
	ErrParse = errors.New("parse error")

	// ErrTimeout reports that the deadline expired before a result was
	// produced. No partial result accompanies it.
	ErrTimeout = errors.New("timeout")

	// ErrRateLimited reports that the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")
)

// ErrorKind returns the stable wire code for err, or "internal" when err does
// not wrap any known kind. A nil error yields "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "internal"
	}
}
