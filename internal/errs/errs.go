package errs

import "fmt"

// ConfigError reports a bad input file, contradictory flags or a missing prerequisite.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SessionError reports that there is no usable Azure session (not logged in, unknown subscription, etc).
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ProviderError reports a failure returned from the Azure management API while reading or writing the audit settings of a server.
type ProviderError struct {
	// Server is the display name of the server that was being processed, if any.
	Server string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("provider error: %v", e.Err)
	}
	return fmt.Sprintf("provider error on %s: %v", e.Server, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func Config(format string, a ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, a...)}
}

func Session(format string, a ...any) error {
	return &SessionError{Err: fmt.Errorf(format, a...)}
}
