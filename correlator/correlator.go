// Package correlator implements synchronous request/reply over the broker.
// A reply is picked up by a short-lived consumer whose selector matches the
// request's correlation id; the wait is bounded by a timeout.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davideduma/commons-jms/balance"
	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/queues"
	"github.com/davideduma/commons-jms/reconnect"
	"github.com/davideduma/commons-jms/selector"
)

// DefaultTimeout bounds GetMessage when the configuration sets no timeout
const DefaultTimeout = 5 * time.Second

// ErrInvalidCorrelator is returned for invalid correlator configurations
var ErrInvalidCorrelator = fmt.Errorf("%w: correlator", broker.ErrInvalidConfiguration)

// Config describes a correlator. Queue or TempQueueAlias name the default
// reply destination; both may be empty when every call passes one.
type Config struct {
	Name              string
	ConnectionFactory string
	Queue             string
	TempQueueAlias    string
	Timeout           time.Duration
	Connections       int
	Customizer        queues.Customizer
	Strategy          balance.Strategy
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidCorrelator)
	case c.Queue != "" && c.TempQueueAlias != "":
		return fmt.Errorf("%w: queue %q and temp queue alias %q are mutually exclusive", ErrInvalidCorrelator, c.Queue, c.TempQueueAlias)
	case c.Timeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidCorrelator)
	case c.Connections < 0:
		return fmt.Errorf("%w: connections must not be negative", ErrInvalidCorrelator)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Connections < 1 {
		c.Connections = 1
	}
	if c.Strategy == nil {
		c.Strategy = balance.NewRoundRobin()
	}
	return c
}

// Receiver performs a blocking correlated receive
type Receiver interface {
	// GetMessage waits for the reply to correlationID on the default
	// destination, bounded by the default timeout
	GetMessage(ctx context.Context, correlationID string) (*broker.Message, error)

	// GetMessageFrom overrides the timeout and destination. A timeout <= 0
	// uses the default.
	GetMessageFrom(ctx context.Context, correlationID string, timeout time.Duration, dest broker.Destination) (*broker.Message, error)
}

var (
	_ reconnect.Resource = (*SyncListener)(nil)
	_ Receiver           = (*SyncListener)(nil)
)

// SyncListener owns one connection and opens a session and a selector
// consumer per call
type SyncListener struct {
	name     string
	cfg      Config
	factory  broker.ConnectionFactory
	registry *queues.Registry
	logger   *slog.Logger

	mu     sync.RWMutex
	conn   broker.Connection
	dest   broker.Destination
	closed bool
}

// NewSyncListener creates a single-connection correlator
func NewSyncListener(cfg Config, factory broker.ConnectionFactory, opts ...Option) (*SyncListener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", ErrInvalidCorrelator)
	}
	o := newOptions(opts)
	return newSyncListener(cfg.withDefaults(), "correlator:"+cfg.Name, factory, o), nil
}

func newSyncListener(cfg Config, name string, factory broker.ConnectionFactory, o *options) *SyncListener {
	return &SyncListener{
		name:     name,
		cfg:      cfg,
		factory:  factory,
		registry: o.registry,
		logger:   o.logger.With("correlator", name),
	}
}

// Name implements reconnect.Resource
func (l *SyncListener) Name() string {
	return l.name
}

// Connect implements reconnect.Resource
func (l *SyncListener) Connect(ctx context.Context, failures chan<- error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return broker.ErrClosed
	}
	l.teardownLocked()

	conn, err := l.factory.CreateConnection(ctx)
	if err != nil {
		return err
	}

	var dest broker.Destination
	if l.cfg.Queue != "" {
		dest, err = l.provision(conn)
		if err != nil {
			_ = conn.Close()
			return err
		}
	}
	conn.NotifyFailure(failures)

	if err := conn.Start(); err != nil {
		_ = conn.Close()
		return broker.Wrap("start connection", err)
	}

	l.conn = conn
	l.dest = dest
	return nil
}

func (l *SyncListener) provision(conn broker.Connection) (broker.Destination, error) {
	session, err := conn.CreateSession()
	if err != nil {
		return nil, broker.Wrap("create session", err)
	}
	defer session.Close()

	return queues.SetupFixedQueue(session, l.cfg.Queue, l.cfg.Customizer)
}

// DefaultDestination resolves the default reply destination. Aliases are
// looked up on every call since the registered queue changes on reconnect.
func (l *SyncListener) DefaultDestination() (broker.Destination, error) {
	switch {
	case l.cfg.Queue != "":
		l.mu.RLock()
		defer l.mu.RUnlock()
		if l.dest == nil {
			return nil, broker.Wrap("resolve destination", broker.ErrNotConnected)
		}
		return l.dest, nil
	case l.cfg.TempQueueAlias != "":
		return l.registry.Lookup(l.cfg.TempQueueAlias)
	default:
		return nil, broker.ErrNoDefaultDestination
	}
}

// GetMessage implements Receiver
func (l *SyncListener) GetMessage(ctx context.Context, correlationID string) (*broker.Message, error) {
	dest, err := l.DefaultDestination()
	if err != nil {
		return nil, err
	}
	return l.GetMessageFrom(ctx, correlationID, l.cfg.Timeout, dest)
}

// GetMessageFrom implements Receiver. No reply within the timeout gives a
// *broker.ReceiveTimeoutError, broker failures a *broker.RuntimeError.
func (l *SyncListener) GetMessageFrom(ctx context.Context, correlationID string, timeout time.Duration, dest broker.Destination) (*broker.Message, error) {
	if dest == nil {
		return nil, broker.ErrNoDefaultDestination
	}
	if timeout <= 0 {
		timeout = l.cfg.Timeout
	}

	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return nil, broker.Wrap("receive", broker.ErrNotConnected)
	}

	session, err := conn.CreateSession()
	if err != nil {
		return nil, broker.Wrap("create session", err)
	}
	defer session.Close()

	consumer, err := session.CreateConsumer(dest, selector.CorrelationID(correlationID))
	if err != nil {
		return nil, broker.Wrap("create consumer", err)
	}
	defer consumer.Close()

	msg, err := consumer.Receive(ctx, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, broker.Wrap("receive", err)
	}
	if msg == nil {
		return nil, &broker.ReceiveTimeoutError{
			CorrelationID: correlationID,
			Destination:   dest.Name(),
			Timeout:       timeout,
		}
	}
	return msg, nil
}

// Close implements reconnect.Resource
func (l *SyncListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.teardownLocked()
	l.closed = true
	return nil
}

func (l *SyncListener) teardownLocked() {
	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		l.logger.Debug("connection close failed", "error", err)
	}
	l.conn = nil
	l.dest = nil
}
