package music

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials marks a credential that is not configured.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrUnexpectedPayload marks an upstream response whose shape does not
	// match the platform schema.
	ErrUnexpectedPayload = errors.New("unexpected payload")
)

// AuthenticationError reports a failed credential acquisition. It is fatal to
// the whole aggregation.
type AuthenticationError struct {
	Platform Platform
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Platform, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ProviderError reports a failed search or detail call of one platform.
// Status holds the upstream HTTP status when the call completed with a
// non-success code and is zero for transport or payload failures.
type ProviderError struct {
	Platform Platform
	Op       string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s returned %d: %v", e.Platform, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Platform, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError reports bad user input. It is raised by the request
// boundary and never by the core.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StatusError builds the ProviderError for a non-success upstream response.
// body is the (possibly truncated) response body kept for logging.
func StatusError(p Platform, op string, status int, body []byte) *ProviderError {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty body"
	}
	return &ProviderError{Platform: p, Op: op, Status: status, Err: errors.New(msg)}
}

// PayloadError builds the ProviderError for a response that does not match
// the expected schema.
func PayloadError(p Platform, op, detail string) *ProviderError {
	return &ProviderError{Platform: p, Op: op, Err: fmt.Errorf("%w: %s", ErrUnexpectedPayload, detail)}
}
