package broker

import (
	"context"
	"time"
)

// ConnectionFactory creates physical connections to a broker
type ConnectionFactory interface {
	// CreateConnection opens a new connection. Implementations should honour ctx
	// for the duration of the dial.
	CreateConnection(ctx context.Context) (Connection, error)
}

// ConnectionFactoryFunc adapts a function to ConnectionFactory
type ConnectionFactoryFunc func(ctx context.Context) (Connection, error)

// CreateConnection implements ConnectionFactory
func (f ConnectionFactoryFunc) CreateConnection(ctx context.Context) (Connection, error) {
	return f(ctx)
}

// Connection is a live broker connection. A connection may be shared by the
// sessions created from it, but every session has exactly one user.
type Connection interface {
	// CreateSession opens a new session on this connection
	CreateSession() (Session, error)

	// NotifyFailure registers a channel that receives an error when the
	// connection fails out-of-band. Implementations must never block on the
	// send: a full channel drops the notification.
	NotifyFailure(ch chan<- error)

	// Start begins message delivery to consumers of this connection
	Start() error

	// Close releases the connection and every session created from it.
	// Temporary destinations created on it become invalid.
	Close() error
}

// Session creates destinations, consumers and producers
type Session interface {
	// CreateQueue resolves (or declares) a named queue
	CreateQueue(name string) (Destination, error)

	// CreateTemporaryQueue creates a queue scoped to the owning connection
	CreateTemporaryQueue() (Destination, error)

	// CreateConsumer binds a consumer to dest. An empty selector receives
	// every message.
	CreateConsumer(dest Destination, selector string) (Consumer, error)

	// CreateProducer creates a producer with default delivery options
	CreateProducer() (Producer, error)

	// Close closes the session and its consumers and producers
	Close() error
}

// Destination is an addressable queue
type Destination interface {
	Name() string
	Temporary() bool
}

// Consumer receives messages from a single destination
type Consumer interface {
	// Receive blocks until a message arrives, the timeout elapses or ctx is
	// done. A timeout returns (nil, nil). A timeout <= 0 waits indefinitely.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)

	// Close stops the consumer
	Close() error
}

// Producer sends messages
type Producer interface {
	// Send delivers msg to dest and assigns msg.ID
	Send(ctx context.Context, dest Destination, msg *Message) error

	// Options returns the delivery options applied to every send
	Options() ProducerOptions

	// SetOptions replaces the delivery options
	SetOptions(opts ProducerOptions)
}

// ProducerOptions are default delivery options applied by a Producer
type ProducerOptions struct {
	Persistent bool
	Priority   uint8
	TimeToLive time.Duration
}

// DefaultProducerOptions returns the options a freshly created producer uses
func DefaultProducerOptions() ProducerOptions {
	return ProducerOptions{
		Persistent: true,
		Priority:   4,
	}
}

// Queue is a plain Destination value usable by any transport
type Queue struct {
	QueueName   string
	IsTemporary bool
}

// Name implements Destination
func (q Queue) Name() string {
	return q.QueueName
}

// Temporary implements Destination
func (q Queue) Temporary() bool {
	return q.IsTemporary
}

func (q Queue) String() string {
	if q.IsTemporary {
		return "temporary-queue://" + q.QueueName
	}
	return "queue://" + q.QueueName
}
