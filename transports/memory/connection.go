package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/selector"
)

// Connection is a connection to the in-memory broker
type Connection struct {
	id     int
	broker *Broker

	mu        sync.Mutex
	sessions  map[*Session]struct{}
	failures  []chan<- error
	temps     []string
	closed    bool
	startOnce sync.Once
	started   chan struct{}
	done      chan struct{}
}

func newConnection(b *Broker, id int) *Connection {
	return &Connection{
		id:       id,
		broker:   b,
		sessions: make(map[*Session]struct{}),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID identifies the connection within its broker
func (c *Connection) ID() int {
	return c.id
}

// CreateSession implements broker.Connection
func (c *Connection) CreateSession() (broker.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, broker.ErrClosed
	}
	s := &Session{conn: c, consumers: make(map[*Consumer]struct{}), done: make(chan struct{})}
	c.sessions[s] = struct{}{}
	return s, nil
}

// NotifyFailure implements broker.Connection
func (c *Connection) NotifyFailure(ch chan<- error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, ch)
}

// Start implements broker.Connection
func (c *Connection) Start() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return broker.ErrClosed
	}
	c.startOnce.Do(func() { close(c.started) })
	return nil
}

// Close implements broker.Connection
func (c *Connection) Close() error {
	c.shutdown(nil)
	return nil
}

// Fail breaks the connection and notifies the registered failure channels
func (c *Connection) Fail(err error) {
	if err == nil {
		err = fmt.Errorf("memory: connection %d failed", c.id)
	}
	c.shutdown(err)
}

// Closed reports whether the connection was closed or failed
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	temps := c.temps
	failures := c.failures
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	c.broker.deleteQueues(temps)
	c.broker.removeConnection(c)

	if cause == nil {
		return
	}
	for _, ch := range failures {
		select {
		case ch <- cause:
		default:
		}
	}
}

func (c *Connection) removeSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

func (c *Connection) addTemporary(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrClosed
	}
	c.temps = append(c.temps, name)
	return nil
}

// Session is a session on an in-memory connection
type Session struct {
	conn *Connection

	mu        sync.Mutex
	consumers map[*Consumer]struct{}
	closed    bool
	done      chan struct{}
}

// CreateQueue implements broker.Session
func (s *Session) CreateQueue(name string) (broker.Destination, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.conn.broker.declare(name).destination(), nil
}

// CreateTemporaryQueue implements broker.Session
func (s *Session) CreateTemporaryQueue() (broker.Destination, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	q := s.conn.broker.declareTemporary()
	if err := s.conn.addTemporary(q.name); err != nil {
		s.conn.broker.deleteQueues([]string{q.name})
		return nil, err
	}
	return q.destination(), nil
}

// CreateConsumer implements broker.Session
func (s *Session) CreateConsumer(dest broker.Destination, sel string) (broker.Consumer, error) {
	compiled, err := selector.Compile(sel)
	if err != nil {
		return nil, err
	}

	q, err := s.conn.broker.resolve(dest)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, broker.ErrClosed
	}

	c := &Consumer{session: s, queue: q, selector: compiled, done: make(chan struct{})}
	s.consumers[c] = struct{}{}
	q.addConsumer(1)
	return c, nil
}

// CreateProducer implements broker.Session
func (s *Session) CreateProducer() (broker.Producer, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &Producer{session: s, opts: broker.DefaultProducerOptions()}, nil
}

// Close implements broker.Session
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	consumers := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	s.conn.removeSession(s)
	return nil
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broker.ErrClosed
	}
	return nil
}

func (s *Session) removeConsumer(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumers, c)
}

// Consumer receives from one in-memory queue
type Consumer struct {
	session  *Session
	queue    *queue
	selector *selector.Selector

	closeOnce sync.Once
	done      chan struct{}
}

// Receive implements broker.Consumer
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	conn := c.session.conn
	for {
		select {
		case <-c.done:
			return nil, broker.ErrClosed
		default:
		}

		signal, deleted := c.queue.state()
		if deleted {
			return nil, fmt.Errorf("%w: %s", broker.ErrDestinationNotFound, c.queue.name)
		}

		started := conn.started
		select {
		case <-started:
			if msg := c.queue.take(c.selector, time.Now()); msg != nil {
				return msg, nil
			}
			started = nil
		default:
		}

		select {
		case <-signal:
		case <-started:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, broker.ErrClosed
		}
	}
}

// Close implements broker.Consumer
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.addConsumer(-1)
		c.session.removeConsumer(c)
	})
	return nil
}

// Producer sends to in-memory queues
type Producer struct {
	session *Session

	mu   sync.Mutex
	opts broker.ProducerOptions
}

// Send implements broker.Producer
func (p *Producer) Send(ctx context.Context, dest broker.Destination, msg *broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.session.check(); err != nil {
		return err
	}
	if err := p.session.conn.broker.sendError(); err != nil {
		return err
	}

	q, err := p.session.conn.broker.resolve(dest)
	if err != nil {
		return err
	}

	opts := p.Options()
	now := time.Now()

	msg.ID = newMessageID()
	msg.Timestamp = now
	msg.Destination = dest
	msg.Persistent = opts.Persistent
	if msg.Priority == 0 {
		msg.Priority = opts.Priority
	}
	if opts.TimeToLive > 0 {
		msg.Expiration = now.Add(opts.TimeToLive)
	}

	if !q.put(msg.Clone()) {
		return fmt.Errorf("%w: %s", broker.ErrDestinationNotFound, dest.Name())
	}
	return nil
}

// Options implements broker.Producer
func (p *Producer) Options() broker.ProducerOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts
}

// SetOptions implements broker.Producer
func (p *Producer) SetOptions(opts broker.ProducerOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
}
