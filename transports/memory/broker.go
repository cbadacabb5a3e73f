// Package memory is an in-process broker implementing the broker
// interfaces. It supports fixed and temporary queues, selectors, delivery
// options and failure injection, which makes it the transport of choice for
// tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/davideduma/commons-jms/broker"
)

// Broker holds the queues and tracks the live connections
type Broker struct {
	mu          sync.Mutex
	queues      map[string]*queue
	conns       []*Connection
	unavailable error
	sendErr     error
	nextConnID  int
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
	}
}

// Factory returns b as a broker.ConnectionFactory
func (b *Broker) Factory() broker.ConnectionFactory {
	return b
}

// CreateConnection implements broker.ConnectionFactory
func (b *Broker) CreateConnection(ctx context.Context) (broker.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unavailable != nil {
		return nil, b.unavailable
	}

	b.nextConnID++
	conn := newConnection(b, b.nextConnID)
	b.conns = append(b.conns, conn)
	return conn, nil
}

// SetUnavailable makes CreateConnection fail with err until it is called
// again with nil
func (b *Broker) SetUnavailable(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = err
}

// FailSends makes every Producer.Send fail with err until it is called
// again with nil
func (b *Broker) FailSends(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// FailConnections breaks every live connection with err, as if the broker
// dropped them. It returns the number of connections failed.
func (b *Broker) FailConnections(err error) int {
	conns := b.Conns()
	for _, c := range conns {
		c.Fail(err)
	}
	return len(conns)
}

// Conns returns the live connections in creation order
func (b *Broker) Conns() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Connection(nil), b.conns...)
}

// Connections returns the number of live connections
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// ConsumerCount returns the number of open consumers on a queue
func (b *Broker) ConsumerCount(name string) int {
	q := b.lookup(name)
	if q == nil {
		return 0
	}
	return q.consumerCount()
}

// Depth returns the number of messages waiting on a queue
func (b *Broker) Depth(name string) int {
	q := b.lookup(name)
	if q == nil {
		return 0
	}
	return q.depth()
}

// Publish puts a copy of msg on a fixed queue, creating it if needed, and
// returns the assigned message ID
func (b *Broker) Publish(name string, msg *broker.Message) string {
	q := b.declare(name)
	m := msg.Clone()
	if m.ID == "" {
		m.ID = newMessageID()
	}
	m.Destination = broker.Queue{QueueName: name}
	q.put(m)
	return m.ID
}

// QueueNames returns the names of the existing queues
func (b *Broker) QueueNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

func (b *Broker) declare(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = newQueue(name, false)
		b.queues[name] = q
	}
	return q
}

func (b *Broker) declareTemporary() *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := "TMP." + uuid.NewString()
	q := newQueue(name, true)
	b.queues[name] = q
	return q
}

func (b *Broker) lookup(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[name]
}

// resolve finds the queue a destination refers to. Fixed queues are created
// on demand, temporary queues must still exist.
func (b *Broker) resolve(dest broker.Destination) (*queue, error) {
	if dest == nil {
		return nil, broker.ErrNoDefaultDestination
	}
	if !dest.Temporary() {
		return b.declare(dest.Name()), nil
	}
	q := b.lookup(dest.Name())
	if q == nil {
		return nil, fmt.Errorf("%w: %s", broker.ErrDestinationNotFound, dest.Name())
	}
	return q, nil
}

func (b *Broker) deleteQueues(names []string) {
	b.mu.Lock()
	var deleted []*queue
	for _, name := range names {
		if q, ok := b.queues[name]; ok {
			delete(b.queues, name)
			deleted = append(deleted, q)
		}
	}
	b.mu.Unlock()

	for _, q := range deleted {
		q.delete()
	}
}

func (b *Broker) removeConnection(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, conn := range b.conns {
		if conn == c {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			return
		}
	}
}

func (b *Broker) sendError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendErr
}

func newMessageID() string {
	return "ID:" + uuid.NewString()
}
