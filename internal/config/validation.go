package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coral-mesh/devbridge/internal/logging"
)

var (
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidPath     = errors.New("path must start with /")
	ErrInvalidDuration = errors.New("duration must not be negative")
	ErrInvalidRetries  = errors.New("retries must be at least 1")
)

// ValidationError ties a validation failure to the field that caused it.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the whole config and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, err error) {
		errs = append(errs, &ValidationError{Field: field, Err: err})
	}

	if !validPort(c.Dial.Port) {
		add("dial.port", ErrInvalidPort)
	}
	if !strings.HasPrefix(c.Dial.Path, "/") {
		add("dial.path", ErrInvalidPath)
	}
	if c.Dial.Retries < 1 {
		add("dial.retries", ErrInvalidRetries)
	}
	if c.Dial.RetryBackoff < 0 {
		add("dial.retry_backoff", ErrInvalidDuration)
	}
	if c.Dial.MaxRetryBackoff < 0 {
		add("dial.max_retry_backoff", ErrInvalidDuration)
	}
	if c.Dial.HandshakeTimeout < 0 {
		add("dial.handshake_timeout", ErrInvalidDuration)
	}

	if !validPort(c.Serve.Port) {
		add("serve.port", ErrInvalidPort)
	}
	if c.Serve.Path != "" && !strings.HasPrefix(c.Serve.Path, "/") {
		add("serve.path", ErrInvalidPath)
	}
	if c.Serve.RestartDelay < 0 {
		add("serve.restart_delay", ErrInvalidDuration)
	}

	if c.Console.SettleDelay < 0 {
		add("console.settle_delay", ErrInvalidDuration)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", err)
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
