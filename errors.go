package certd

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDomains is returned when a definition has no usable domain left after normalization.
	ErrNoDomains = errors.New("no domains configured")

	// ErrInvalidSettings is wrapped by every Settings.Validate failure.
	ErrInvalidSettings = errors.New("invalid settings")
)

// ToolkitError reports a failed cryptographic or filesystem operation.
type ToolkitError struct {
	Op  string
	Err error
}

func (e *ToolkitError) Error() string {
	return fmt.Sprintf("toolkit: %s: %v", e.Op, e.Err)
}

func (e *ToolkitError) Unwrap() error { return e.Err }

// SigningError reports a failed exchange with the certificate authority.
type SigningError struct {
	Name string
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing %q: %v", e.Name, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// NotifyError reports a target that could not be signalled. It is always logged and dropped.
type NotifyError struct {
	Target string
	Err    error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %q: %v", e.Target, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// ConfigError reports a certificate definition source that could not be used.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
