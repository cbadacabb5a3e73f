package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/queues"
	"github.com/davideduma/commons-jms/reconnect"
)

type options struct {
	logger        *slog.Logger
	registry      *queues.Registry
	engineOptions []reconnect.Option
}

// Option configures a correlator
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry sets the registry temp queue aliases are resolved in
func WithRegistry(registry *queues.Registry) Option {
	return func(o *options) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithEngineOptions passes options to every connection's reconnect engine
func WithEngineOptions(opts ...reconnect.Option) Option {
	return func(o *options) {
		o.engineOptions = append(o.engineOptions, opts...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:   slog.Default(),
		registry: queues.NewRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pool spreads correlated receives over several connections so concurrent
// calls do not serialize on one. Calls go through Async.
type Pool struct {
	cfg       Config
	listeners []*SyncListener
	engines   []*reconnect.Engine
	async     *Async
}

var _ Receiver = (*Pool)(nil)

// NewPool creates cfg.Connections sync listeners, each with its own engine
func NewPool(cfg Config, factory broker.ConnectionFactory, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", ErrInvalidCorrelator)
	}

	cfg = cfg.withDefaults()
	o := newOptions(opts)
	engineOpts := append([]reconnect.Option{reconnect.WithLogger(o.logger)}, o.engineOptions...)

	p := &Pool{cfg: cfg}
	for i := 0; i < cfg.Connections; i++ {
		l := newSyncListener(cfg, fmt.Sprintf("correlator:%s#%d", cfg.Name, i), factory, o)
		p.listeners = append(p.listeners, l)
		p.engines = append(p.engines, reconnect.NewEngine(l, engineOpts...))
	}
	p.async = NewAsync(direct{p})

	return p, nil
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Timeout returns the default receive timeout
func (p *Pool) Timeout() time.Duration {
	return p.cfg.Timeout
}

// Start connects every listener
func (p *Pool) Start(ctx context.Context) error {
	var errs []error
	for _, e := range p.engines {
		if err := e.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetMessage implements Receiver
func (p *Pool) GetMessage(ctx context.Context, correlationID string) (*broker.Message, error) {
	return p.async.GetMessage(ctx, correlationID)
}

// GetMessageFrom implements Receiver
func (p *Pool) GetMessageFrom(ctx context.Context, correlationID string, timeout time.Duration, dest broker.Destination) (*broker.Message, error) {
	return p.async.GetMessageFrom(ctx, correlationID, timeout, dest)
}

// GetMessageAsync starts a receive and returns without waiting
func (p *Pool) GetMessageAsync(ctx context.Context, correlationID string) <-chan Result {
	return p.async.GetMessageAsync(ctx, correlationID)
}

// DefaultDestination resolves the reply destination callers should put in
// ReplyTo
func (p *Pool) DefaultDestination() (broker.Destination, error) {
	return p.pick().DefaultDestination()
}

// Listeners returns the underlying sync listeners
func (p *Pool) Listeners() []*SyncListener {
	return p.listeners
}

// Engines returns the reconnect engine of every listener
func (p *Pool) Engines() []*reconnect.Engine {
	return p.engines
}

// Close closes every listener
func (p *Pool) Close() error {
	var errs []error
	for _, e := range p.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) pick() *SyncListener {
	return p.listeners[p.cfg.Strategy.Next(len(p.listeners))]
}

// direct receives on the listener picked by the strategy, without the
// goroutine hop
type direct struct {
	p *Pool
}

func (d direct) GetMessage(ctx context.Context, correlationID string) (*broker.Message, error) {
	return d.p.pick().GetMessage(ctx, correlationID)
}

func (d direct) GetMessageFrom(ctx context.Context, correlationID string, timeout time.Duration, dest broker.Destination) (*broker.Message, error) {
	return d.p.pick().GetMessageFrom(ctx, correlationID, timeout, dest)
}
