package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrTaskNotFound      = errors.New("task not found")
)

// ValidationError marks caller input that can never succeed; it is not retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UpstreamError reports a non-success status from the route provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// UpstreamDataError reports a provider payload missing the expected geometry.
type UpstreamDataError struct {
	Provider string
	Reason   string
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Provider, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
