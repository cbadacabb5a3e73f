package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/davideduma/commons-jms/balance"
	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/reconnect"
)

// BreakerSettings configures the circuit breaker of every replica
type BreakerSettings struct {
	// MaxRequests allowed through a half-open breaker
	MaxRequests uint32
	// Interval clears the failure counts of a closed breaker, 0 never clears
	Interval time.Duration
	// Timeout is how long a breaker stays open
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings trips after 5 consecutive broker failures and
// probes again after 10 seconds
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Pool selects a replica per send
type Pool struct {
	cfg      Config
	replicas []*Replica
	engines  []*reconnect.Engine
	breakers []*gobreaker.CircuitBreaker
	strategy balance.Strategy
	logger   *slog.Logger
}

type options struct {
	logger        *slog.Logger
	engineOptions []reconnect.Option
	breaker       BreakerSettings
}

// Option configures a Pool
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEngineOptions passes options to every replica's reconnect engine
func WithEngineOptions(opts ...reconnect.Option) Option {
	return func(o *options) {
		o.engineOptions = append(o.engineOptions, opts...)
	}
}

// WithBreakerSettings replaces the circuit breaker settings
func WithBreakerSettings(s BreakerSettings) Option {
	return func(o *options) {
		o.breaker = s
	}
}

// NewPool creates cfg.Connections replicas, each driven by its own engine
func NewPool(cfg Config, factory broker.ConnectionFactory, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", ErrInvalidSender)
	}

	o := &options{
		logger:  slog.Default(),
		breaker: DefaultBreakerSettings(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Connections < 1 {
		cfg.Connections = 1
	}
	if cfg.Strategy == nil {
		cfg.Strategy = balance.NewRoundRobin()
	}

	p := &Pool{
		cfg:      cfg,
		strategy: cfg.Strategy,
		logger:   o.logger.With("sender", cfg.Name),
	}

	engineOpts := append([]reconnect.Option{reconnect.WithLogger(o.logger)}, o.engineOptions...)
	for i := 0; i < cfg.Connections; i++ {
		r := NewReplica(cfg, i, factory, o.logger)
		p.replicas = append(p.replicas, r)
		p.engines = append(p.engines, reconnect.NewEngine(r, engineOpts...))
		p.breakers = append(p.breakers, p.newBreaker(r.Name(), o.breaker))
	}

	return p, nil
}

func (p *Pool) newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.Info("circuit breaker state changed",
				"replica", name,
				"from", from.String(),
				"to", to.String())
		},
		// only broker failures count against a replica
		IsSuccessful: func(err error) bool {
			return err == nil || !broker.IsRuntime(err)
		},
	})
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Start connects every replica. Replicas that fail to connect are reported
// in the returned error; they keep their engine and can be reconnected.
func (p *Pool) Start(ctx context.Context) error {
	var errs []error
	for _, e := range p.engines {
		if err := e.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send sends to the default destination and returns the message ID
func (p *Pool) Send(ctx context.Context, creator MessageCreator) (string, error) {
	return p.SendTo(ctx, nil, creator)
}

// SendTo sends to dest through one replica and returns the message ID
func (p *Pool) SendTo(ctx context.Context, dest broker.Destination, creator MessageCreator) (string, error) {
	i := p.pick()
	replica := p.replicas[i]

	result, err := p.breakers[i].Execute(func() (any, error) {
		return replica.Send(ctx, dest, creator)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger.Warn("circuit breaker is open", "replica", replica.Name())
			return "", broker.Wrap("send", err)
		}
		return "", err
	}

	return result.(string), nil
}

// pick asks the strategy for a replica and moves on to the next one whose
// breaker is not open. If every breaker is open the strategy's choice stands.
func (p *Pool) pick() int {
	n := len(p.replicas)
	first := p.strategy.Next(n)
	for k := 0; k < n; k++ {
		i := (first + k) % n
		if p.breakers[i].State() != gobreaker.StateOpen {
			return i
		}
	}
	return first
}

// Replicas returns the replicas in index order
func (p *Pool) Replicas() []*Replica {
	return p.replicas
}

// Engines returns the reconnect engine of every replica
func (p *Pool) Engines() []*reconnect.Engine {
	return p.engines
}

// Close closes every replica
func (p *Pool) Close() error {
	var errs []error
	for _, e := range p.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
