package inference

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindRetriesExhausted Kind = "retries_exhausted"
	KindNonTransient     Kind = "non_transient"
	KindTimeout          Kind = "timeout"
)

// ErrHealthUnsupported is returned by providers without a status endpoint.
var ErrHealthUnsupported = errors.New("provider does not expose a health check")

// GatewayError is the only error Generate returns.
type GatewayError struct {
	Kind     Kind
	Provider string
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("inference %s after %d attempt(s) via %s: %v", e.Kind, e.Attempts, e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ProviderError carries the status a provider reported for a failed call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TransientStatus reports whether an HTTP status means "try again later".
// 529 is Anthropic's overloaded status.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		return true
	default:
		return false
	}
}

func statusError(provider string, code int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: code,
		Transient:  TransientStatus(code),
		Err:        err,
	}
}

func isTransient(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}
