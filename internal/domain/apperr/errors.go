// Package apperr holds the error taxonomy shared by the services, the channel
// senders and the HTTP facade.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError is user-correctable bad input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransportError is an external provider failure that survived retries.
type TransportError struct {
	Channel  string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed after %d attempt(s): %v", e.Channel, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown (or inactive) resource.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// AlreadySentError means the one-send-per-day guard rejected a send.
type AlreadySentError struct {
	LastSentAt time.Time
}

func (e *AlreadySentError) Error() string {
	return fmt.Sprintf("already sent today at %s", e.LastSentAt.UTC().Format(time.RFC3339))
}

// ConfigurationError is a missing provider credential. It disables one
// channel, never the process.
type ConfigurationError struct {
	Channel string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s channel is not configured", e.Channel)
	}
	return fmt.Sprintf("%s channel is not configured: missing %s", e.Channel, strings.Join(e.Missing, ", "))
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}

// AsAlreadySent returns the wrapped AlreadySentError, if any.
func AsAlreadySent(err error) (*AlreadySentError, bool) {
	var as *AlreadySentError
	if errors.As(err, &as) {
		return as, true
	}
	return nil, false
}
