package client

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned by provider constructors when no
// API key can be found.  It is fatal: nothing should be sent.
var ErrMissingCredential = errors.New("missing credential")

// ErrEmptyResponse means the call succeeded but the model returned no
// text.
var ErrEmptyResponse = errors.New("empty response")

// ApiError wraps any failure of a remote generation call.
type ApiError struct {
	Provider string
	Detail   string
	Err      error
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Detail)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// NewApiError builds an ApiError from an underlying error.  It returns
// nil if err is nil, and passes existing ApiErrors through untouched.
func NewApiError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return err
	}
	return &ApiError{Provider: provider, Detail: err.Error(), Err: err}
}

// MissingCredential returns an error wrapping ErrMissingCredential
// that names the variable the user should set.
func MissingCredential(provider, envVar string) error {
	return fmt.Errorf("%s: %w: set %s in the environment or secrets file", provider, ErrMissingCredential, envVar)
}

// CheckReply converts an empty reply into an ApiError wrapping
// ErrEmptyResponse.
func CheckReply(provider, reply string) (string, error) {
	if reply == "" {
		return "", &ApiError{Provider: provider, Detail: ErrEmptyResponse.Error(), Err: ErrEmptyResponse}
	}
	return reply, nil
}
