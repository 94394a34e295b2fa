package provider

import "errors"

var (
	// ErrProviderUnavailable means every raced endpoint failed.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedResponse means a chat completion did not contain the
	// expected JSON document.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrInvalidConfig is returned for unusable endpoint configuration.
	ErrInvalidConfig = errors.New("invalid provider config")
)
