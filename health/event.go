// Package health carries lifecycle notifications of reconnectable resources
// and turns them into logs, metrics and health check results.
package health

import (
	"time"
)

// Kind is the type of a lifecycle event
type Kind int

const (
	// EventConnecting is emitted before a resource dials its connection
	EventConnecting Kind = iota
	// EventConnected is emitted after a successful (re)connect
	EventConnected
	// EventDisconnected is emitted when the broker reports a connection failure
	EventDisconnected
	// EventFailed is emitted when a resource gives up reconnecting
	EventFailed
	// EventError reports an error that did not affect the connection, such as
	// a failing message handler
	EventError
)

func (k Kind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification
type Event struct {
	Kind     Kind
	Resource string
	Err      error
	Time     time.Time
}

// NewEvent creates an event stamped with the current time
func NewEvent(kind Kind, resource string, err error) Event {
	return Event{
		Kind:     kind,
		Resource: resource,
		Err:      err,
		Time:     time.Now(),
	}
}

// Sink receives lifecycle events. OnEvent is fire-and-forget and must not
// block the caller; wrap slow sinks with NewAsync.
type Sink interface {
	OnEvent(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// OnEvent implements Sink
func (f SinkFunc) OnEvent(e Event) {
	f(e)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})
