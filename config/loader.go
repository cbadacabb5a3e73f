package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/davideduma/commons-jms/balance"
	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/reconnect"
	"github.com/davideduma/commons-jms/sender"
	"github.com/davideduma/commons-jms/transports/rabbitmq"
)

// ErrInvalidSettings is returned for values envconfig accepts but the
// runtime cannot use
var ErrInvalidSettings = fmt.Errorf("%w: settings", broker.ErrInvalidConfiguration)

// Init config from environment variables.
func Init() (*Settings, error) {
	cfg := &Settings{}

	err := envconfig.Process("", cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse configuration: %w", err)
	}

	if len(ServiceVersion) != 0 {
		cfg.AppConfig.ServiceVersion = ServiceVersion
	}

	if len(CommitSHA) != 0 {
		cfg.AppConfig.CommitSHA = CommitSHA
	}

	return cfg, nil
}

// Dump writes the configuration as indented JSON. The broker URL is
// sanitized.
func (s *Settings) Dump(w io.Writer) error {
	c := *s
	c.Broker.URL = rabbitmq.SanitizeURL(c.Broker.URL)

	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}

// Logger builds a slog logger writing to w
func (l LoggingConfig) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("%w: logging level %q", ErrInvalidSettings, l.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: logging format %q", ErrInvalidSettings, l.Format)
	}
}

// Policy builds the reconnect policy
func (r ReconnectConfig) Policy() (reconnect.Policy, error) {
	switch strings.ToLower(r.Strategy) {
	case "", "exponential":
		if r.InitialInterval <= 0 {
			return nil, fmt.Errorf("%w: reconnect initial interval must be positive", ErrInvalidSettings)
		}
		p := reconnect.NewExponentialBackoff(r.InitialInterval, r.MaxInterval, r.Multiplier, r.MaxRetries)
		p.Jitter = r.Jitter
		return p, nil
	case "fixed":
		return reconnect.NewFixedDelay(r.InitialInterval, r.MaxRetries), nil
	case "immediate":
		return reconnect.Immediate(r.MaxRetries), nil
	default:
		return nil, fmt.Errorf("%w: unknown reconnect strategy %q", ErrInvalidSettings, r.Strategy)
	}
}

// Balance returns the replica selection strategy
func (s SenderConfig) Balance() (balance.Strategy, error) {
	strategy, ok := balance.Parse(strings.ToLower(s.Strategy))
	if !ok {
		return nil, fmt.Errorf("%w: unknown sender strategy %q", ErrInvalidSettings, s.Strategy)
	}
	return strategy, nil
}

// Breaker returns the circuit breaker settings of sender replicas
func (s SenderConfig) Breaker() sender.BreakerSettings {
	b := sender.DefaultBreakerSettings()
	if s.BreakerFailures > 0 {
		b.ConsecutiveFailures = s.BreakerFailures
	}
	if s.BreakerTimeout > 0 {
		b.Timeout = s.BreakerTimeout
	}
	if s.BreakerMaxRequests > 0 {
		b.MaxRequests = s.BreakerMaxRequests
	}
	b.Interval = s.BreakerResetInterval
	return b
}

// TransportOptions returns the RabbitMQ transport options
func (b BrokerConfig) TransportOptions(logger *slog.Logger, connectionName string) []rabbitmq.TransportOption {
	opts := []rabbitmq.TransportOption{
		rabbitmq.WithLogger(logger),
		rabbitmq.WithDialTimeout(b.DialTimeout),
		rabbitmq.WithHeartbeat(b.Heartbeat),
		rabbitmq.WithPrefetchCount(b.PrefetchCount),
		rabbitmq.WithPollInterval(b.SelectorPollInterval),
	}
	if connectionName != "" {
		opts = append(opts, rabbitmq.WithConnectionName(connectionName))
	}
	return opts
}

// ConnectionFactory builds the RabbitMQ connection factory
func (s *Settings) ConnectionFactory(logger *slog.Logger) (broker.ConnectionFactory, error) {
	return rabbitmq.NewConnectionFactory(s.Broker.URL, s.Broker.TransportOptions(logger, s.AppConfig.ServiceName)...)
}
