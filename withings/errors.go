package withings

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is, so callers
// can branch on the failure kind without a type assertion.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNetwork         = errors.New("network error")
	ErrProvider        = errors.New("provider error")
)

// unknownProviderError is reported when the provider signals failure
// without an error message.
const unknownProviderError = "Unknown error"

// ArgumentError reports a missing or empty required input. It is raised
// before any request is sent.
type ArgumentError struct {
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Message)
	}

	return fmt.Sprintf("invalid argument: %s is required", e.Field)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// NetworkError wraps a transport failure: connection errors, timeouts,
// unreadable bodies or responses that cannot be decoded. Callers may
// retry these at their own discretion.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// ProviderError reports a failure signalled by Withings in the response
// body. Status is the provider status code, not the HTTP status.
type ProviderError struct {
	Status  int64
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("withings error (status %d): %s", e.Status, e.Message)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// IsInvalidArgument reports whether err (or any error in its chain) is an
// ArgumentError.
func IsInvalidArgument(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err (or any error in its chain) is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsProvider reports whether err (or any error in its chain) is a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Kind returns a short name for the failure kind of err, or "" when err
// is not one of this package's errors.
func Kind(err error) string {
	switch {
	case IsInvalidArgument(err):
		return "invalid_argument"
	case IsNetwork(err):
		return "network"
	case IsProvider(err):
		return "provider"
	}

	return ""
}
