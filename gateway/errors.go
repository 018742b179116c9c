package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited is matched by errors.Is for any provider 429.
	ErrRateLimited = errors.New("gateway: rate limited")

	// ErrEmptyResponse is returned when a structured call yields no text.
	ErrEmptyResponse = errors.New("gateway: empty response")
)

// ProviderError is an error returned by a model provider's API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateLimited) match a 429 from any provider.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.IsRateLimited()
}

// IsRateLimited reports whether the provider throttled the request.
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports whether the provider failed on its side.
func (e *ProviderError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsRateLimited reports whether err is, or wraps, a rate-limit error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTransient reports whether retrying the same request later may succeed.
func IsTransient(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsServerError()
}
