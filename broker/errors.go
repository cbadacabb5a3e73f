package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration marks configuration errors, which are fatal at startup
	ErrInvalidConfiguration = errors.New("jms: invalid configuration")

	// ErrNotConnected is returned when a component is used before it connected
	// or while it is reconnecting
	ErrNotConnected = errors.New("jms: not connected")

	// ErrClosed is returned by operations on a closed connection, session or consumer
	ErrClosed = errors.New("jms: closed")

	// ErrReceiveTimeout is matched by every ReceiveTimeoutError
	ErrReceiveTimeout = errors.New("jms: receive timeout")

	// ErrDestinationNotFound is returned when a registry alias has no destination
	ErrDestinationNotFound = errors.New("jms: destination not found")

	// ErrNoDefaultDestination is returned by sends that rely on a default
	// destination that was never configured
	ErrNoDefaultDestination = errors.New("jms: no default destination")
)

// RuntimeError is the runtime failure category used for broker errors,
// provisioning errors and connect failures. Code carries the broker error
// code when the transport exposes one.
type RuntimeError struct {
	Op        string    // Operation that failed
	Code      string    // Broker error code, may be empty
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *RuntimeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("jms runtime error: %s failed (code %s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("jms runtime error: %s failed: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Wrap turns err into a *RuntimeError for op. Errors that already are a
// RuntimeError are returned unchanged so the original op and code survive.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var rt *RuntimeError
	if errors.As(err, &rt) {
		return err
	}
	return &RuntimeError{
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WrapCode is like Wrap but records a broker error code
func WrapCode(op, code string, err error) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{
		Op:        op,
		Code:      code,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// IsRuntime reports whether err is (or wraps) a RuntimeError
func IsRuntime(err error) bool {
	var rt *RuntimeError
	return errors.As(err, &rt)
}

// ReceiveTimeoutError is returned when no reply arrived within the timeout.
// It is a distinct kind so callers can tell "no reply" from "broker down".
type ReceiveTimeoutError struct {
	CorrelationID string
	Destination   string
	Timeout       time.Duration
}

func (e *ReceiveTimeoutError) Error() string {
	return fmt.Sprintf("jms: no message with correlation id %q on %s within %v",
		e.CorrelationID, e.Destination, e.Timeout)
}

// Is makes errors.Is(err, ErrReceiveTimeout) match
func (e *ReceiveTimeoutError) Is(target error) bool {
	return target == ErrReceiveTimeout
}
