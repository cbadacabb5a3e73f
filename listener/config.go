// Package listener runs a fixed-size group of workers consuming one
// destination on one connection. A Pool is a reconnect.Resource: every
// (re)connect tears the previous worker set down before starting a new one.
package listener

import (
	"context"
	"errors"
	"fmt"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/queues"
)

// ErrInvalidListener is returned by Config.Validate. It matches
// broker.ErrInvalidConfiguration.
var ErrInvalidListener = fmt.Errorf("%w: listener", broker.ErrInvalidConfiguration)

// Config describes one listener. Exactly one of Queue and TempQueueAlias
// must be set.
type Config struct {
	// Queue is the fixed queue to consume
	Queue string

	// TempQueueAlias makes the pool consume a temporary queue created on
	// every connect and registered under this alias
	TempQueueAlias string

	// Concurrency is the number of workers, default 1
	Concurrency int

	// ConnectionFactory selects a registered factory, empty for the default
	ConnectionFactory string

	// Selector optionally filters the consumed messages
	Selector string

	// Customizer is applied to the destination after it was created
	Customizer queues.Customizer

	// Reactive marks a listener whose handler completes asynchronously
	Reactive bool
}

// Validate checks the queue settings. It runs before any connection is
// attempted.
func (c Config) Validate() error {
	switch {
	case c.Queue == "" && c.TempQueueAlias == "":
		return fmt.Errorf("%w: one of queue or temp queue alias is required", ErrInvalidListener)
	case c.Queue != "" && c.TempQueueAlias != "":
		return fmt.Errorf("%w: queue %q and temp queue alias %q are mutually exclusive", ErrInvalidListener, c.Queue, c.TempQueueAlias)
	}
	return nil
}

// Name returns the logical resource name
func (c Config) Name() string {
	if c.Queue != "" {
		return "listener:" + c.Queue
	}
	return "listener:@" + c.TempQueueAlias
}

// Alias is the registry key of the consumed destination
func (c Config) Alias() string {
	if c.Queue != "" {
		return c.Queue
	}
	return c.TempQueueAlias
}

// Handler processes one message at a time
type Handler interface {
	Handle(ctx context.Context, msg *broker.Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *broker.Message) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, msg *broker.Message) error {
	return f(ctx, msg)
}

// ReactiveHandler starts processing a message and reports completion on the
// returned channel. A nil error, a closed channel or a nil channel mean
// success. The worker does not receive again before completion.
type ReactiveHandler interface {
	HandleAsync(ctx context.Context, msg *broker.Message) <-chan error
}

// ReactiveHandlerFunc adapts a function to ReactiveHandler
type ReactiveHandlerFunc func(ctx context.Context, msg *broker.Message) <-chan error

// HandleAsync implements ReactiveHandler
func (f ReactiveHandlerFunc) HandleAsync(ctx context.Context, msg *broker.Message) <-chan error {
	return f(ctx, msg)
}

// HandlerError is reported to the health sink when a handler fails
type HandlerError struct {
	Listener  string
	Worker    int
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("listener %s worker %d: message %s: %v", e.Listener, e.Worker, e.MessageID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ErrHandlerPanic wraps the value recovered from a panicking handler
var ErrHandlerPanic = errors.New("handler panic")

type workerKey struct{}

// WorkerIndex returns the index of the worker handling the message, when ctx
// was passed to a handler by a Pool
func WorkerIndex(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(workerKey{}).(int)
	return i, ok
}
