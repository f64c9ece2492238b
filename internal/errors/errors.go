// Package errors provides domain-specific error types for spdev.
//
// A running device ends in exactly one of three ways, and each has its
// own shape here: configuration problems come back as *ConfigError
// before any message moves, orderly teardown comes back as ErrShutdown,
// and broken socket-layer contracts panic with *FatalError.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrShutdown is returned by a device whose socket was closed or
	// whose layer was terminated.  It is the normal way a device ends.
	ErrShutdown = errors.New("device shut down")

	// ErrInvalidConfig means the sockets or recipe cannot form a device.
	ErrInvalidConfig = errors.New("invalid device configuration")

	// ErrBadDescriptor means no usable socket was supplied.
	ErrBadDescriptor = errors.New("bad socket descriptor")

	// ErrNoStrategy means validation passed but no forwarding loop
	// fits the sockets' directions under the recipe.
	ErrNoStrategy = errors.New("no forwarding strategy matches")

	// ErrUnsupported is returned by platform backends that are not
	// available on this OS.
	ErrUnsupported = errors.ErrUnsupported
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "read", "write"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value, either from
// the user's config or from the sockets handed to a device.
type ConfigError struct {
	Field   string      // config field or socket property
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
	Err     error       // sentinel class, e.g. ErrInvalidConfig
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Field != "" {
		msg += ": " + e.Field
		if e.Value != nil {
			msg += fmt.Sprintf("=%v", e.Value)
		}
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FatalError is the panic value for a broken contract between the
// device and its socket layer.  It is never returned.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// Invalid returns a ConfigError of class ErrInvalidConfig.
func Invalid(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message, Err: ErrInvalidConfig}
}

// Fatal panics with a FatalError.
func Fatal(op string, err error) {
	panic(&FatalError{Op: op, Err: err})
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsShutdown reports whether err marks an orderly device shutdown.
func IsShutdown(err error) bool { return errors.Is(err, ErrShutdown) }

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
