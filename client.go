// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jms wires listeners, senders and correlators registered at startup
// to their connection factories and supervises them.
package jms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/correlator"
	"github.com/davideduma/commons-jms/health"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/queues"
	"github.com/davideduma/commons-jms/reconnect"
	"github.com/davideduma/commons-jms/sender"
)

// DefaultConnectionFactory is the key used when a config names no factory
const DefaultConnectionFactory = "default"

var (
	// ErrAlreadyStarted is returned by registrations after Start
	ErrAlreadyStarted = errors.New("jms: client already started")

	// ErrUnknownComponent is returned when a sender or correlator name is not registered
	ErrUnknownComponent = errors.New("jms: unknown component")
)

// Client provides the main entry point: components are registered, then
// started together
type Client struct {
	factories map[string]broker.ConnectionFactory
	registry  *queues.Registry
	health    *health.Registry
	logger    *slog.Logger
	sink      health.Sink
	policy    reconnect.Policy

	pollTimeout  time.Duration
	drainTimeout time.Duration
	breaker      *sender.BreakerSettings

	mu          sync.Mutex
	listeners   []*reconnect.Engine
	senders     map[string]*sender.Pool
	senderOrder []string
	correlators map[string]*correlator.Pool
	corrOrder   []string
	started     bool
	closed      bool
}

// clientConfig holds client configuration
type clientConfig struct {
	logger       *slog.Logger
	factories    map[string]broker.ConnectionFactory
	registry     *queues.Registry
	sink         health.Sink
	policy       reconnect.Policy
	pollTimeout  time.Duration
	drainTimeout time.Duration
	breaker      *sender.BreakerSettings
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithConnectionFactory registers a factory under name
func WithConnectionFactory(name string, factory broker.ConnectionFactory) ClientOption {
	return func(cfg *clientConfig) {
		if name == "" {
			name = DefaultConnectionFactory
		}
		cfg.factories[name] = factory
	}
}

// WithDefaultConnectionFactory registers the factory used by configs that
// name none
func WithDefaultConnectionFactory(factory broker.ConnectionFactory) ClientOption {
	return WithConnectionFactory(DefaultConnectionFactory, factory)
}

// WithRegistry shares a destination registry with the client
func WithRegistry(registry *queues.Registry) ClientOption {
	return func(cfg *clientConfig) {
		if registry != nil {
			cfg.registry = registry
		}
	}
}

// WithHealthSink sets the sink receiving connection events from every component
func WithHealthSink(sink health.Sink) ClientOption {
	return func(cfg *clientConfig) {
		if sink != nil {
			cfg.sink = sink
		}
	}
}

// WithReconnectPolicy sets the retry policy of every component
func WithReconnectPolicy(policy reconnect.Policy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.policy = policy
	}
}

// WithListenerPollTimeout sets how long listener workers block per receive
func WithListenerPollTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.pollTimeout = d
	}
}

// WithDrainTimeout makes listeners wait up to d for in-flight handlers on
// reconnect and close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.drainTimeout = d
	}
}

// WithBreakerSettings sets the circuit breaker of sender replicas
func WithBreakerSettings(s sender.BreakerSettings) ClientOption {
	return func(cfg *clientConfig) {
		cfg.breaker = &s
	}
}

// New creates a client. Components are registered before Start.
func New(options ...ClientOption) *Client {
	cfg := &clientConfig{
		logger:    slog.Default(),
		factories: make(map[string]broker.ConnectionFactory),
		registry:  queues.NewRegistry(),
		sink:      health.Discard,
	}

	for _, opt := range options {
		opt(cfg)
	}

	return &Client{
		factories:    cfg.factories,
		registry:     cfg.registry,
		health:       health.NewRegistry(),
		logger:       cfg.logger,
		sink:         cfg.sink,
		policy:       cfg.policy,
		pollTimeout:  cfg.pollTimeout,
		drainTimeout: cfg.drainTimeout,
		breaker:      cfg.breaker,
		senders:      make(map[string]*sender.Pool),
		correlators:  make(map[string]*correlator.Pool),
	}
}

func (c *Client) factory(name string) (broker.ConnectionFactory, error) {
	if name == "" {
		name = DefaultConnectionFactory
	}
	f, ok := c.factories[name]
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: no connection factory %q", broker.ErrInvalidConfiguration, name)
	}
	return f, nil
}

func (c *Client) engineOptions() []reconnect.Option {
	opts := []reconnect.Option{
		reconnect.WithLogger(c.logger),
		reconnect.WithHealthSink(c.sink),
	}
	if c.policy != nil {
		opts = append(opts, reconnect.WithPolicy(c.policy))
	}
	return opts
}

func (c *Client) listenerOptions() []listener.Option {
	opts := []listener.Option{
		listener.WithLogger(c.logger),
		listener.WithHealthSink(c.sink),
		listener.WithRegistry(c.registry),
		listener.WithDrainTimeout(c.drainTimeout),
	}
	if c.pollTimeout > 0 {
		opts = append(opts, listener.WithPollTimeout(c.pollTimeout))
	}
	return opts
}

func (c *Client) checkOpen() error {
	if c.closed {
		return broker.ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	return nil
}

// RegisterListener registers a listener with a blocking handler. The
// configuration is validated here, before anything connects.
func (c *Client) RegisterListener(cfg listener.Config, handler listener.Handler) error {
	return c.registerListener(cfg, func(f broker.ConnectionFactory) (*listener.Pool, error) {
		return listener.New(cfg, f, handler, c.listenerOptions()...)
	})
}

// RegisterReactiveListener registers a listener whose handler completes
// asynchronously
func (c *Client) RegisterReactiveListener(cfg listener.Config, handler listener.ReactiveHandler) error {
	return c.registerListener(cfg, func(f broker.ConnectionFactory) (*listener.Pool, error) {
		return listener.NewReactive(cfg, f, handler, c.listenerOptions()...)
	})
}

func (c *Client) registerListener(cfg listener.Config, build func(broker.ConnectionFactory) (*listener.Pool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	f, err := c.factory(cfg.ConnectionFactory)
	if err != nil {
		return err
	}

	pool, err := build(f)
	if err != nil {
		return err
	}

	engine := reconnect.NewEngine(pool, c.engineOptions()...)
	c.listeners = append(c.listeners, engine)
	c.health.Register(health.NewResourceChecker(engine))

	c.logger.Debug("listener registered",
		"listener", pool.Name(),
		"concurrency", pool.Config().Concurrency)
	return nil
}

// RegisterSender registers a named sender pool
func (c *Client) RegisterSender(cfg sender.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, ok := c.senders[cfg.Name]; ok {
		return fmt.Errorf("%w: duplicate sender %q", sender.ErrInvalidSender, cfg.Name)
	}
	f, err := c.factory(cfg.ConnectionFactory)
	if err != nil {
		return err
	}

	opts := []sender.Option{
		sender.WithLogger(c.logger),
		sender.WithEngineOptions(c.engineOptions()...),
	}
	if c.breaker != nil {
		opts = append(opts, sender.WithBreakerSettings(*c.breaker))
	}

	pool, err := sender.NewPool(cfg, f, opts...)
	if err != nil {
		return err
	}

	c.senders[cfg.Name] = pool
	c.senderOrder = append(c.senderOrder, cfg.Name)
	for _, engine := range pool.Engines() {
		c.health.Register(health.NewResourceChecker(engine))
	}
	return nil
}

// RegisterCorrelator registers a named correlator pool
func (c *Client) RegisterCorrelator(cfg correlator.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, ok := c.correlators[cfg.Name]; ok {
		return fmt.Errorf("%w: duplicate correlator %q", correlator.ErrInvalidCorrelator, cfg.Name)
	}
	f, err := c.factory(cfg.ConnectionFactory)
	if err != nil {
		return err
	}

	pool, err := correlator.NewPool(cfg, f,
		correlator.WithLogger(c.logger),
		correlator.WithRegistry(c.registry),
		correlator.WithEngineOptions(c.engineOptions()...),
	)
	if err != nil {
		return err
	}

	c.correlators[cfg.Name] = pool
	c.corrOrder = append(c.corrOrder, cfg.Name)
	for _, engine := range pool.Engines() {
		c.health.Register(health.NewResourceChecker(engine))
	}
	return nil
}

// Start connects every registered component. Senders start first so that
// handlers replying through them can send as soon as listener workers run;
// listeners start before correlators so temporary queues are registered
// before correlators resolve their aliases. A component whose first connect
// fails is not retried in the background: the error is returned, and the
// caller must Close the client and build a new one to retry.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return broker.ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	var errs []error
	for _, name := range c.senderOrder {
		if err := c.senders[name].Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, engine := range c.listeners {
		if err := engine.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range c.corrOrder {
		if err := c.correlators[name].Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("client started",
		"listeners", len(c.listeners),
		"senders", len(c.senders),
		"correlators", len(c.correlators),
		"errors", len(errs))
	return errors.Join(errs...)
}

// Sender returns a registered sender pool
func (c *Client) Sender(name string) (*sender.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.senders[name]
	if !ok {
		return nil, fmt.Errorf("%w: sender %q", ErrUnknownComponent, name)
	}
	return s, nil
}

// Correlator returns a registered correlator pool
func (c *Client) Correlator(name string) (*correlator.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.correlators[name]
	if !ok {
		return nil, fmt.Errorf("%w: correlator %q", ErrUnknownComponent, name)
	}
	return r, nil
}

// Listeners returns the reconnect engines of the registered listeners
func (c *Client) Listeners() []*reconnect.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*reconnect.Engine(nil), c.listeners...)
}

// Queues returns the destination registry
func (c *Client) Queues() *queues.Registry {
	return c.registry
}

// Health checks the connection state of every component
func (c *Client) Health(ctx context.Context) health.OverallHealth {
	return c.health.Check(ctx)
}

// Close stops correlators, listeners and senders, in that order
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, name := range c.corrOrder {
		if err := c.correlators[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, engine := range c.listeners {
		if err := engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range c.senderOrder {
		if err := c.senders[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
