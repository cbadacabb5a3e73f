package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/davideduma/commons-jms/broker"
)

// Dialer opens AMQP connections for one broker URL
type Dialer struct {
	url          string
	dialTimeout  time.Duration
	prefetch     int
	pollInterval time.Duration
	config       amqp.Config
	logger       *slog.Logger
}

// Option configures the Dialer
type Option func(*Dialer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDialTimeout bounds how long a dial may take
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.dialTimeout = timeout
	}
}

// WithPrefetchCount sets the QoS prefetch of push consumers
func WithPrefetchCount(count int) Option {
	return func(d *Dialer) {
		d.prefetch = count
	}
}

// WithPollInterval sets how often selector consumers sweep an idle queue
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dialer) {
		d.pollInterval = interval
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(interval time.Duration) Option {
	return func(d *Dialer) {
		d.config.Heartbeat = interval
	}
}

// WithConnectionName sets the client-provided connection name shown in the
// management UI
func WithConnectionName(name string) Option {
	return func(d *Dialer) {
		if d.config.Properties == nil {
			d.config.Properties = amqp.NewConnectionProperties()
		}
		d.config.Properties.SetClientConnectionName(name)
	}
}

// NewDialer creates a dialer for url
func NewDialer(url string, options ...Option) (*Dialer, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidConfiguration)
	}
	d := &Dialer{
		url:          url,
		dialTimeout:  30 * time.Second,
		prefetch:     1,
		pollInterval: 50 * time.Millisecond,
		config: amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
		},
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.prefetch < 1 {
		d.prefetch = 1
	}
	if d.pollInterval <= 0 {
		d.pollInterval = 50 * time.Millisecond
	}
	return d, nil
}

// CreateConnection implements broker.ConnectionFactory
func (d *Dialer) CreateConnection(ctx context.Context) (broker.Connection, error) {
	connCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.DialConfig(d.url, d.config)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		d.logger.Debug("connected to RabbitMQ", "url", SanitizeURL(d.url))
		return newConnection(conn, d), nil

	case err := <-errChan:
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(d.url),
			Err:       err,
			Timestamp: time.Now(),
		}

	case <-connCtx.Done():
		go reclaim[*amqp.Connection](connChan, errChan)

		err := ErrConnectionTimeout
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(d.url),
			Err:       err,
			Timestamp: time.Now(),
		}
	}
}

// reclaim waits for a dial the caller gave up on and closes the connection
// if it succeeded
func reclaim[C io.Closer](conns <-chan C, errs <-chan error) {
	select {
	case conn := <-conns:
		_ = conn.Close()
	case <-errs:
	}
}

// Connection wraps an AMQP connection
type Connection struct {
	conn   *amqp.Connection
	dialer *Dialer
	logger *slog.Logger

	started   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ broker.Connection = (*Connection)(nil)

func newConnection(conn *amqp.Connection, d *Dialer) *Connection {
	return &Connection{
		conn:    conn,
		dialer:  d,
		logger:  d.logger,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// CreateSession implements broker.Connection
func (c *Connection) CreateSession() (broker.Session, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, wrap("create session", err)
	}
	return newSession(c, ch), nil
}

// NotifyFailure implements broker.Connection. The AMQP close notification is
// forwarded without blocking; a clean Close sends nothing.
func (c *Connection) NotifyFailure(failures chan<- error) {
	closed := c.conn.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		amqpErr, ok := <-closed
		if !ok || amqpErr == nil {
			return
		}
		c.logger.Warn("connection closed by broker",
			"code", amqpErr.Code,
			"reason", amqpErr.Reason,
			"url", SanitizeURL(c.dialer.url))

		select {
		case failures <- wrap("connection", amqpErr):
		default:
		}
	}()
}

// Start implements broker.Connection
func (c *Connection) Start() error {
	if c.conn.IsClosed() {
		return wrap("start", amqp.ErrClosed)
	}
	c.startOnce.Do(func() { close(c.started) })
	return nil
}

// Close implements broker.Connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if !c.conn.IsClosed() {
			err = c.conn.Close()
		}
	})
	return err
}

// waitStarted blocks until the connection was started or closed
func (c *Connection) waitStarted(ctx context.Context, expired <-chan time.Time) (bool, error) {
	select {
	case <-c.started:
		return true, nil
	case <-c.done:
		return false, broker.ErrClosed
	case <-expired:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
