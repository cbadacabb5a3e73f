package correlator

import (
	"context"
	"time"

	"github.com/davideduma/commons-jms/broker"
)

// Result is the outcome of an asynchronous receive
type Result struct {
	Message *broker.Message
	Err     error
}

// Async runs receives on their own goroutine. The caller's context bounds
// only the caller's wait: a receive keeps running until its own timeout even
// when the caller gives up, and its result is then discarded.
type Async struct {
	receiver Receiver
}

var _ Receiver = (*Async)(nil)

// NewAsync wraps receiver
func NewAsync(receiver Receiver) *Async {
	return &Async{receiver: receiver}
}

// GetMessageAsync starts a receive on the default destination. The channel
// delivers exactly one Result.
func (a *Async) GetMessageAsync(ctx context.Context, correlationID string) <-chan Result {
	return a.run(ctx, func(ctx context.Context) (*broker.Message, error) {
		return a.receiver.GetMessage(ctx, correlationID)
	})
}

// GetMessageFromAsync is GetMessageAsync with an explicit timeout and destination
func (a *Async) GetMessageFromAsync(ctx context.Context, correlationID string, timeout time.Duration, dest broker.Destination) <-chan Result {
	return a.run(ctx, func(ctx context.Context) (*broker.Message, error) {
		return a.receiver.GetMessageFrom(ctx, correlationID, timeout, dest)
	})
}

// GetMessage implements Receiver
func (a *Async) GetMessage(ctx context.Context, correlationID string) (*broker.Message, error) {
	return wait(ctx, a.GetMessageAsync(ctx, correlationID))
}

// GetMessageFrom implements Receiver
func (a *Async) GetMessageFrom(ctx context.Context, correlationID string, timeout time.Duration, dest broker.Destination) (*broker.Message, error) {
	return wait(ctx, a.GetMessageFromAsync(ctx, correlationID, timeout, dest))
}

func (a *Async) run(ctx context.Context, receive func(context.Context) (*broker.Message, error)) <-chan Result {
	results := make(chan Result, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		msg, err := receive(detached)
		results <- Result{Message: msg, Err: err}
	}()
	return results
}

func wait(ctx context.Context, results <-chan Result) (*broker.Message, error) {
	select {
	case r := <-results:
		return r.Message, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
