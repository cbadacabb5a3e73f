package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/health"
	"github.com/davideduma/commons-jms/queues"
	"github.com/davideduma/commons-jms/reconnect"
)

const defaultPollTimeout = time.Second

var _ reconnect.Resource = (*Pool)(nil)

// WorkerID identifies a worker across reconnects
type WorkerID struct {
	Generation uint64
	Index      int
}

// Pool consumes one destination with Concurrency workers
type Pool struct {
	cfg      Config
	factory  broker.ConnectionFactory
	handler  Handler
	reactive ReactiveHandler

	registry     *queues.Registry
	logger       *slog.Logger
	sink         health.Sink
	pollTimeout  time.Duration
	drainTimeout time.Duration

	mu         sync.Mutex
	conn       broker.Connection
	sessions   []broker.Session
	workers    *tomb.Tomb
	dest       broker.Destination
	generation uint64
	ids        []WorkerID
	closed     bool

	active atomic.Int32
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHealthSink sets the sink receiving handler errors
func WithHealthSink(sink health.Sink) Option {
	return func(p *Pool) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// WithRegistry sets the registry the consumed destination is published in
func WithRegistry(registry *queues.Registry) Option {
	return func(p *Pool) {
		if registry != nil {
			p.registry = registry
		}
	}
}

// WithPollTimeout bounds each receive call so workers notice shutdown; it
// is also the pause after a failed receive
func WithPollTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollTimeout = d
		}
	}
}

// WithDrainTimeout makes shutdown wait up to d for in-flight messages.
// The default of 0 stops workers without waiting.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.drainTimeout = d
	}
}

// New creates a pool driving a blocking handler
func New(cfg Config, factory broker.ConnectionFactory, handler Handler, opts ...Option) (*Pool, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidListener)
	}
	return newPool(cfg, factory, handler, nil, opts)
}

// NewReactive creates a pool driving a reactive handler
func NewReactive(cfg Config, factory broker.ConnectionFactory, handler ReactiveHandler, opts ...Option) (*Pool, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidListener)
	}
	cfg.Reactive = true
	return newPool(cfg, factory, nil, handler, opts)
}

func newPool(cfg Config, factory broker.ConnectionFactory, handler Handler, reactive ReactiveHandler, opts []Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", ErrInvalidListener)
	}

	p := &Pool{
		factory:     factory,
		handler:     handler,
		reactive:    reactive,
		registry:    queues.NewRegistry(),
		logger:      slog.Default(),
		sink:        health.Discard,
		pollTimeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.Concurrency < 0 {
		p.logger.Warn("listener concurrency below 1, using 1",
			"listener", cfg.Name(),
			"concurrency", cfg.Concurrency)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	p.cfg = cfg
	p.logger = p.logger.With("listener", cfg.Name())

	return p, nil
}

// Name implements reconnect.Resource
func (p *Pool) Name() string {
	return p.cfg.Name()
}

// Config returns the effective configuration
func (p *Pool) Config() Config {
	return p.cfg
}

// Connect implements reconnect.Resource. It stops the current workers,
// opens a new connection, provisions the destination and starts
// Concurrency new workers.
func (p *Pool) Connect(ctx context.Context, failures chan<- error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return broker.ErrClosed
	}
	p.stopLocked()

	conn, err := p.factory.CreateConnection(ctx)
	if err != nil {
		return err
	}

	sessions, consumers, dest, err := p.setup(conn)
	if err != nil {
		for _, s := range sessions {
			_ = s.Close()
		}
		_ = conn.Close()
		return err
	}
	conn.NotifyFailure(failures)

	p.generation++
	generation := p.generation
	t := new(tomb.Tomb)
	ids := make([]WorkerID, len(consumers))
	for i := range consumers {
		ids[i] = WorkerID{Generation: generation, Index: i}
	}

	t.Go(func() error {
		for i, consumer := range consumers {
			i, consumer := i, consumer
			t.Go(func() error {
				return p.work(t, i, consumer)
			})
		}
		<-t.Dying()
		return nil
	})

	if err := conn.Start(); err != nil {
		t.Kill(nil)
		for _, s := range sessions {
			_ = s.Close()
		}
		_ = conn.Close()
		return err
	}

	p.registry.Register(p.cfg.Alias(), dest)
	p.conn = conn
	p.sessions = sessions
	p.workers = t
	p.dest = dest
	p.ids = ids

	p.logger.Info("listener started",
		"destination", dest.Name(),
		"workers", len(consumers),
		"generation", generation)
	return nil
}

// setup provisions the destination once and opens one session and consumer
// per worker. The returned sessions must be closed by the caller on error.
func (p *Pool) setup(conn broker.Connection) ([]broker.Session, []broker.Consumer, broker.Destination, error) {
	provisioning, err := conn.CreateSession()
	if err != nil {
		return nil, nil, nil, broker.Wrap("create session", err)
	}
	sessions := []broker.Session{provisioning}

	var dest broker.Destination
	if p.cfg.Queue != "" {
		dest, err = queues.SetupFixedQueue(provisioning, p.cfg.Queue, p.cfg.Customizer)
	} else {
		dest, err = queues.SetupTemporaryQueue(provisioning, p.cfg.Customizer)
	}
	if err != nil {
		return sessions, nil, nil, err
	}

	consumers := make([]broker.Consumer, 0, p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		s, err := conn.CreateSession()
		if err != nil {
			return sessions, nil, nil, broker.Wrap("create session", err)
		}
		sessions = append(sessions, s)

		c, err := s.CreateConsumer(dest, p.cfg.Selector)
		if err != nil {
			return sessions, nil, nil, broker.Wrap("create consumer", err)
		}
		consumers = append(consumers, c)
	}

	return sessions, consumers, dest, nil
}

func (p *Pool) work(t *tomb.Tomb, index int, consumer broker.Consumer) error {
	p.active.Add(1)
	defer p.active.Add(-1)

	ctx := t.Context(nil)
	handlerCtx := ctx
	if p.drainTimeout > 0 {
		handlerCtx = context.WithoutCancel(ctx)
	}
	handlerCtx = context.WithValue(handlerCtx, workerKey{}, index)

	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		msg, err := consumer.Receive(ctx, p.pollTimeout)
		if err != nil {
			if !t.Alive() || errors.Is(err, broker.ErrClosed) {
				return nil
			}
			p.logger.Warn("receive failed", "worker", index, "error", err)
			p.sink.OnEvent(health.NewEvent(health.EventError, p.Name(), err))

			select {
			case <-t.Dying():
				return nil
			case <-time.After(p.pollTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}

		p.dispatch(handlerCtx, index, msg)
	}
}

// dispatch runs the handler for one message. Errors and panics are reported
// and never stop the worker.
func (p *Pool) dispatch(ctx context.Context, index int, msg *broker.Message) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			herr := &HandlerError{Listener: p.Name(), Worker: index, MessageID: msg.ID, Err: err}
			p.logger.Error("message handler failed",
				"worker", index,
				"messageId", msg.ID,
				"error", err)
			p.sink.OnEvent(health.NewEvent(health.EventError, p.Name(), herr))
		}
	}()

	if p.reactive == nil {
		err = p.handler.Handle(ctx, msg)
		return
	}

	done := p.reactive.HandleAsync(ctx, msg)
	if done == nil {
		return
	}
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
}

// stopLocked stops the workers and closes the connection. With a drain
// timeout it first waits for in-flight messages.
func (p *Pool) stopLocked() {
	if p.workers == nil {
		return
	}

	t := p.workers
	t.Kill(nil)

	if p.drainTimeout > 0 {
		drained := make(chan struct{})
		go func() {
			_ = t.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(p.drainTimeout):
			p.logger.Warn("drain timeout exceeded, closing with messages in flight",
				"timeout", p.drainTimeout)
		}
	}

	for _, s := range p.sessions {
		if err := s.Close(); err != nil {
			p.logger.Debug("session close failed", "error", err)
		}
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Debug("connection close failed", "error", err)
	}
	if p.dest != nil && p.dest.Temporary() {
		p.registry.RemoveIf(p.cfg.Alias(), p.dest)
	}

	p.logger.Info("listener stopped", "generation", p.generation)

	p.workers = nil
	p.conn = nil
	p.sessions = nil
	p.dest = nil
	p.ids = nil
}

// Close implements reconnect.Resource
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.closed = true
	return nil
}

// Destination returns the destination consumed by the current workers
func (p *Pool) Destination() broker.Destination {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dest
}

// Workers returns the identities of the current worker set
func (p *Pool) Workers() []WorkerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WorkerID(nil), p.ids...)
}

// Generation counts successful connects
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// ActiveWorkers returns the number of worker goroutines still running,
// including workers of a previous generation finishing a message
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}
