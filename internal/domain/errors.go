package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing document or collection.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig is the sentinel every ConfigError unwraps to.
	ErrInvalidConfig = errors.New("invalid config")
)

// ConfigError rejects a workload configuration before any provider call is made.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig.Error(), e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
