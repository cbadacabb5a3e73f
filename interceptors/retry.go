package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/reconnect"
)

// RetryInterceptor retries a failing handler in place, on the same worker.
// Delays come from a reconnect.Policy; Next(0) is consulted before the
// first retry.
type RetryInterceptor struct {
	policy    reconnect.Policy
	retryable func(error) bool
	logger    *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor. Every error is
// retried until the policy gives up.
func NewRetryInterceptor(policy reconnect.Policy) *RetryInterceptor {
	return &RetryInterceptor{
		policy:    policy,
		retryable: func(error) bool { return true },
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithRetryable limits retries to errors for which fn returns true
func (r *RetryInterceptor) WithRetryable(fn func(error) bool) *RetryInterceptor {
	if fn != nil {
		r.retryable = fn
	}
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	err := next.Handle(ctx, msg)

	for attempt := 0; err != nil; attempt++ {
		if errors.Is(err, context.Canceled) || !r.retryable(err) {
			return err
		}
		delay, ok := r.policy.Next(attempt)
		if !ok {
			return err
		}

		r.logger.Debug("retrying message",
			"messageId", msg.ID,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return err
			}
		}
		err = next.Handle(ctx, msg)
	}
	return nil
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
