// Package interceptors wraps listener handlers with cross-cutting concerns.
//
// Built-in interceptors:
//   - LoggingInterceptor: logs every message with timing information
//   - MetricsInterceptor: counts messages and records handling time
//   - TimeoutInterceptor: bounds the handler with a deadline
//   - FilteringInterceptor: skips messages that do not pass a filter
//   - RetryInterceptor: retries failed handlers in place
//   - DeadLetterInterceptor: forwards failed messages through a sender
//
// Example usage:
//
//	chain := interceptors.NewInterceptorChain(logger).
//		Add(interceptors.NewLoggingInterceptor(logger)).
//		Add(interceptors.NewTimeoutInterceptor(30 * time.Second))
//
//	client.RegisterListener(cfg, chain.Then(handler))
//
// Interceptors run in the order they were added, the final handler last.
package interceptors
