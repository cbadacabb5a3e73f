// Package queues materializes destinations and shares them between
// components through an alias registry.
package queues

import (
	"fmt"

	"github.com/davideduma/commons-jms/broker"
)

// Customizer adjusts a destination right after it was created, for example
// to set vendor specific attributes
type Customizer interface {
	Customize(dest broker.Destination) error
}

// CustomizerFunc adapts a function to Customizer
type CustomizerFunc func(dest broker.Destination) error

// Customize implements Customizer
func (f CustomizerFunc) Customize(dest broker.Destination) error {
	return f(dest)
}

// Provider resolves a destination on a session
type Provider func(session broker.Session) (broker.Destination, error)

// SetupFixedQueue resolves the named queue and applies the customizer.
// Failures are returned as *broker.RuntimeError.
func SetupFixedQueue(session broker.Session, name string, customizer Customizer) (broker.Destination, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty queue name", broker.ErrInvalidConfiguration)
	}

	dest, err := session.CreateQueue(name)
	if err != nil {
		return nil, broker.Wrap("create queue", fmt.Errorf("queue %s: %w", name, err))
	}

	return customize(dest, customizer)
}

// SetupTemporaryQueue creates a queue scoped to the session's connection and
// applies the customizer
func SetupTemporaryQueue(session broker.Session, customizer Customizer) (broker.Destination, error) {
	dest, err := session.CreateTemporaryQueue()
	if err != nil {
		return nil, broker.Wrap("create temporary queue", err)
	}

	return customize(dest, customizer)
}

func customize(dest broker.Destination, customizer Customizer) (broker.Destination, error) {
	if customizer == nil {
		return dest, nil
	}
	if err := customizer.Customize(dest); err != nil {
		return nil, broker.Wrap("customize", fmt.Errorf("destination %s: %w", dest.Name(), err))
	}
	return dest, nil
}

// FixedQueue returns a Provider for SetupFixedQueue
func FixedQueue(name string, customizer Customizer) Provider {
	return func(session broker.Session) (broker.Destination, error) {
		return SetupFixedQueue(session, name, customizer)
	}
}

// TemporaryQueue returns a Provider for SetupTemporaryQueue
func TemporaryQueue(customizer Customizer) Provider {
	return func(session broker.Session) (broker.Destination, error) {
		return SetupTemporaryQueue(session, customizer)
	}
}
