// Package reconnect keeps a broker connection alive across failures.
//
// A Resource owns one physical connection and everything built on it
// (sessions, consumers, producers). The Engine drives the resource through
// its lifecycle:
//
//	Idle → Connecting → Connected → Reconnecting → Connected | Failed
//
// Connects are serialized: a second Reconnect waits for the one in progress.
// Every successful connect hands the resource a fresh failure channel, and a
// single goroutine per engine reads only the current one, so notifications
// from connections that were already replaced are ignored.
package reconnect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/health"
)

// Resource is a unit that owns one broker connection
type Resource interface {
	// Name is the stable logical name used in logs and health events
	Name() string

	// Connect tears down the previous connection and everything built on it
	// (if any), then builds a new one. The resource must install failures on
	// the new connection with broker.Connection.NotifyFailure.
	Connect(ctx context.Context, failures chan<- error) error

	// Close releases the connection
	Close() error
}

// State is the lifecycle state of an Engine
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine drives a Resource through its lifecycle
type Engine struct {
	resource Resource
	policy   Policy
	logger   *slog.Logger
	sink     health.Sink

	// connectMu serializes Resource.Connect and Resource.Close
	connectMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	failures   chan error
	lastErr    error

	ctx       context.Context
	cancel    context.CancelFunc
	wake      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	looping   bool
	loopDone  chan struct{}
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHealthSink sets the sink receiving lifecycle events
func WithHealthSink(sink health.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithPolicy sets the reconnect policy
func WithPolicy(policy Policy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.policy = policy
		}
	}
}

// NewEngine creates an engine for resource. Nothing happens until Start.
func NewEngine(resource Resource, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		resource: resource,
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
		sink:     health.Discard,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("resource", resource.Name())
	return e
}

// Name returns the resource name
func (e *Engine) Name() string {
	return e.resource.Name()
}

// Resource returns the driven resource
func (e *Engine) Resource() Resource {
	return e.resource
}

// Start connects the resource for the first time and starts watching for
// failures. Connect errors are returned as *broker.RuntimeError.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed() {
		return broker.ErrClosed
	}
	e.startOnce.Do(func() {
		e.mu.Lock()
		e.looping = true
		e.mu.Unlock()
		go e.loop()
	})
	return e.Reconnect(ctx)
}

// Reconnect tears down the current connection and builds a new one. It is
// idempotent: calling it on a connected engine replaces exactly one
// connection with exactly one new one.
func (e *Engine) Reconnect(ctx context.Context) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()
	return e.connectLocked(ctx, false)
}

func (e *Engine) connectLocked(ctx context.Context, recovering bool) error {
	if e.closed() {
		return broker.ErrClosed
	}

	if !recovering {
		e.setState(StateConnecting)
	}
	e.emit(health.EventConnecting, nil)

	failures := make(chan error, 1)
	if err := e.resource.Connect(ctx, failures); err != nil {
		err = broker.Wrap("connect", err)

		e.mu.Lock()
		e.lastErr = err
		if !recovering {
			if e.generation == 0 {
				e.state = StateIdle
			} else {
				e.state = StateReconnecting
			}
		}
		e.mu.Unlock()

		e.logger.Error("connect failed", "error", err)
		e.emit(health.EventError, err)
		return err
	}

	e.mu.Lock()
	e.failures = failures
	e.generation++
	e.state = StateConnected
	e.lastErr = nil
	generation := e.generation
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}

	e.logger.Info("connected", "generation", generation)
	e.emit(health.EventConnected, nil)
	return nil
}

// loop is the only reader of the failure channels
func (e *Engine) loop() {
	defer close(e.loopDone)

	for {
		e.mu.RLock()
		ch := e.failures
		e.mu.RUnlock()

		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		case err := <-ch:
			e.recover(ch, err)
		}
	}
}

// recover reconnects after a failure reported on ch, unless ch was already
// superseded by a newer connection
func (e *Engine) recover(ch chan error, cause error) {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	e.mu.RLock()
	stale := ch != e.failures
	e.mu.RUnlock()
	if stale || e.closed() {
		return
	}

	e.mu.Lock()
	e.state = StateReconnecting
	e.lastErr = cause
	e.mu.Unlock()

	e.logger.Warn("connection lost", "error", cause)
	e.emit(health.EventDisconnected, cause)

	for attempt := 0; ; attempt++ {
		delay, ok := e.policy.Next(attempt)
		if !ok {
			e.mu.Lock()
			e.state = StateFailed
			err := e.lastErr
			e.mu.Unlock()

			e.logger.Error("giving up reconnecting", "attempts", attempt, "error", err)
			e.emit(health.EventFailed, err)
			return
		}

		if delay > 0 {
			e.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)
			if !sleep(e.ctx, delay) {
				return
			}
		}

		if err := e.connectLocked(e.ctx, true); err == nil {
			return
		}
		if e.closed() {
			return
		}
	}
}

// Close stops watching for failures and closes the resource
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()

		e.connectMu.Lock()
		err = e.resource.Close()
		e.mu.Lock()
		e.state = StateClosed
		e.mu.Unlock()
		e.connectMu.Unlock()

		e.startOnce.Do(func() {})
		e.mu.RLock()
		looping := e.looping
		e.mu.RUnlock()
		if looping {
			<-e.loopDone
		}

		e.logger.Info("closed")
	})
	return err
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// StateName returns the current state as a string
func (e *Engine) StateName() string {
	return e.State().String()
}

// Connected reports whether the resource holds a live connection
func (e *Engine) Connected() bool {
	return e.State() == StateConnected
}

// Failed reports whether the engine gave up reconnecting
func (e *Engine) Failed() bool {
	return e.State() == StateFailed
}

// Generation counts successful connects
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// LastError returns the error that caused the last disconnect or failed
// connect, nil while connected
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) closed() bool {
	return e.ctx.Err() != nil
}

func (e *Engine) emit(kind health.Kind, err error) {
	e.sink.OnEvent(health.NewEvent(kind, e.resource.Name(), err))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
