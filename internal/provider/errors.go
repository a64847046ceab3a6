package provider

import "fmt"

// ErrorKind classifies a provider-local failure. The fallback resolver
// treats every kind the same way (move on to the next provider); the
// kind exists for the attempt trail and logs.
type ErrorKind string

const (
	NotFound    ErrorKind = "not_found"
	RateLimited ErrorKind = "rate_limited"
	Timeout     ErrorKind = "timeout"
	Malformed   ErrorKind = "malformed"
)

// Error is the only failure shape a Provider may return. Raw network or
// parsing errors must be wrapped, never passed through.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a provider error with a formatted cause.
func Errf(name string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Provider: name, Kind: kind, Err: fmt.Errorf(format, args...)}
}
