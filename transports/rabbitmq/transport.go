// Package rabbitmq exposes the RabbitMQ connection factory
package rabbitmq

import (
	"log/slog"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/internal/rabbitmq"
)

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	DialOptions []rabbitmq.Option
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithLogger sets the logger used by connections
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DialOptions = append(cfg.DialOptions, rabbitmq.WithLogger(logger))
	}
}

// WithDialTimeout bounds every dial
func WithDialTimeout(timeout time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DialOptions = append(cfg.DialOptions, rabbitmq.WithDialTimeout(timeout))
	}
}

// WithPrefetchCount sets the prefetch of consumers without a selector
func WithPrefetchCount(count int) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DialOptions = append(cfg.DialOptions, rabbitmq.WithPrefetchCount(count))
	}
}

// WithPollInterval sets how often selector consumers poll an idle queue
func WithPollInterval(interval time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DialOptions = append(cfg.DialOptions, rabbitmq.WithPollInterval(interval))
	}
}

// WithHeartbeat sets the AMQP heartbeat
func WithHeartbeat(interval time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DialOptions = append(cfg.DialOptions, rabbitmq.WithHeartbeat(interval))
	}
}

// WithConnectionName labels connections in the RabbitMQ management UI
func WithConnectionName(name string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DialOptions = append(cfg.DialOptions, rabbitmq.WithConnectionName(name))
	}
}

// NewConnectionFactory returns a factory that dials url on every
// CreateConnection. No connection is opened here.
func NewConnectionFactory(url string, options ...TransportOption) (broker.ConnectionFactory, error) {
	cfg := &TransportConfig{}
	for _, opt := range options {
		opt(cfg)
	}
	return rabbitmq.NewDialer(url, cfg.DialOptions...)
}

// SanitizeURL masks the password of a broker URL for logging
func SanitizeURL(url string) string {
	return rabbitmq.SanitizeURL(url)
}
