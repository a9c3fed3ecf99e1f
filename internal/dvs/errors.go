package dvs

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrLookupTable        = errors.New("lookup table error")
	ErrUnsupportedBackend = errors.New("unsupported backend")
	ErrTransport          = errors.New("transport error")
)

// ConfigurationError reports an invalid option, such as an unknown transform
// name or a missing input selection. It is raised before any event is read.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf builds a ConfigurationError for field with a formatted message.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// LookupTableError reports a malformed or out-of-range calibration row.
// Line is 1-based; zero means the error is not tied to a line.
type LookupTableError struct {
	Path string
	Line int
	Err  error
}

func (e *LookupTableError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("lookup table %s:%d: %v", e.Path, e.Line, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("lookup table line %d: %v", e.Line, e.Err)
	case e.Path != "":
		return fmt.Sprintf("lookup table %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("lookup table: %v", e.Err)
}

func (e *LookupTableError) Unwrap() error { return e.Err }

func (e *LookupTableError) Is(target error) bool { return target == ErrLookupTable }

// UnsupportedBackendError reports a source, sink or storage backend that was
// not compiled into this binary.
type UnsupportedBackendError struct {
	Backend string
	Hint    string
}

func (e *UnsupportedBackendError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s support not enabled", e.Backend)
	}
	return fmt.Sprintf("%s support not enabled: %s", e.Backend, e.Hint)
}

func (e *UnsupportedBackendError) Is(target error) bool { return target == ErrUnsupportedBackend }

// TransportError reports a socket or file write failure during streaming.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
