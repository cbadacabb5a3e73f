package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/selector"
)

// Session owns one AMQP channel
type Session struct {
	conn *Connection
	ch   *amqp.Channel

	mu        sync.Mutex
	consumers map[*Consumer]struct{}
	closed    bool
}

var _ broker.Session = (*Session)(nil)

func newSession(conn *Connection, ch *amqp.Channel) *Session {
	return &Session{
		conn:      conn,
		ch:        ch,
		consumers: make(map[*Consumer]struct{}),
	}
}

// CreateQueue implements broker.Session. Queues are declared durable.
func (s *Session) CreateQueue(name string) (broker.Destination, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty queue name", ErrInvalidConfiguration)
	}
	q, err := s.ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return nil, wrap("create queue", err)
	}
	return broker.Queue{QueueName: q.Name}, nil
}

// CreateTemporaryQueue implements broker.Session. The queue is server-named,
// exclusive to this connection and deleted when the connection closes.
func (s *Session) CreateTemporaryQueue() (broker.Destination, error) {
	q, err := s.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, wrap("create temporary queue", err)
	}
	return broker.Queue{QueueName: q.Name, IsTemporary: true}, nil
}

// CreateConsumer implements broker.Session
func (s *Session) CreateConsumer(dest broker.Destination, sel string) (broker.Consumer, error) {
	if dest == nil {
		return nil, broker.ErrNoDefaultDestination
	}
	compiled, err := selector.Compile(sel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, broker.ErrClosed
	}

	c := &Consumer{
		session:  s,
		queue:    dest.Name(),
		selector: compiled,
		tag:      "jms-" + uuid.NewString(),
		done:     make(chan struct{}),
	}
	s.consumers[c] = struct{}{}
	return c, nil
}

// CreateProducer implements broker.Session
func (s *Session) CreateProducer() (broker.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, broker.ErrClosed
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
	consumers := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	if s.ch.IsClosed() {
		return nil
	}
	return s.ch.Close()
}

func (s *Session) removeConsumer(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumers, c)
}

// Producer publishes through the default exchange, routing on the queue name
type Producer struct {
	session *Session

	mu   sync.Mutex
	opts broker.ProducerOptions
}

// Send implements broker.Producer
func (p *Producer) Send(ctx context.Context, dest broker.Destination, msg *broker.Message) error {
	if dest == nil {
		return broker.ErrNoDefaultDestination
	}

	opts := p.Options()
	now := time.Now()

	msg.ID = "ID:" + uuid.NewString()
	msg.Timestamp = now
	msg.Destination = dest
	msg.Persistent = opts.Persistent
	if msg.Priority == 0 {
		msg.Priority = opts.Priority
	}
	if opts.TimeToLive > 0 {
		msg.Expiration = now.Add(opts.TimeToLive)
	}

	err := p.session.ch.PublishWithContext(ctx, "", dest.Name(), false, false, toPublishing(msg))
	return wrap("send", err)
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
