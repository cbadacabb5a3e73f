package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/listener"
)

// Interceptor processes messages before they reach the final handler
type Interceptor interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, msg *broker.Message, next listener.Handler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, msg *broker.Message, next listener.Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	return i.fn(ctx, msg, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names returns the interceptor names in execution order
func (c *InterceptorChain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	return names
}

// Execute executes the interceptor chain
func (c *InterceptorChain) Execute(ctx context.Context, msg *broker.Message, finalHandler listener.Handler) error {
	return c.Then(finalHandler).Handle(ctx, msg)
}

// Then returns finalHandler wrapped by every interceptor, ready to register
// with a listener. Interceptors added later are not picked up.
func (c *InterceptorChain) Then(finalHandler listener.Handler) listener.Handler {
	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		currentHandler := handler
		handler = listener.HandlerFunc(func(ctx context.Context, msg *broker.Message) error {
			return interceptor.Intercept(ctx, msg, currentHandler)
		})
	}
	c.logger.Debug("interceptor chain built", "interceptors", c.Names())
	return handler
}

// Built-in interceptors

// LoggingInterceptor logs message processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	start := time.Now()
	worker, _ := listener.WorkerIndex(ctx)

	i.logger.Debug("processing message",
		"messageId", msg.ID,
		"messageType", msg.Type,
		"correlationId", msg.CorrelationID,
		"worker", worker,
	)

	err := next.Handle(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("message processing failed",
			"messageId", msg.ID,
			"messageType", msg.Type,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("message processed successfully",
			"messageId", msg.ID,
			"messageType", msg.Type,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsInterceptor collects metrics about message processing
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	IncrementMessageCount(messageType string)
	RecordProcessingTime(messageType string, duration time.Duration)
	IncrementErrorCount(messageType string, errorType string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	start := time.Now()
	messageType := msg.Type

	i.collector.IncrementMessageCount(messageType)

	err := next.Handle(ctx, msg)
	duration := time.Since(start)

	i.collector.RecordProcessingTime(messageType, duration)

	if err != nil {
		i.collector.IncrementErrorCount(messageType, errorType(err))
	}

	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

func errorType(err error) string {
	switch {
	case broker.IsRuntime(err):
		return "broker_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "processing_error"
	}
}

// TimeoutInterceptor adds timeout handling to message processing
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. The handler must honour ctx; a handler
// that ignores it still runs to completion.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	return next.Handle(ctx, msg)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}
