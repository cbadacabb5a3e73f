package sender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/reconnect"
)

var _ reconnect.Resource = (*Replica)(nil)

// Replica is one send path: a connection, a session and a producer. Sends
// on a replica are serialized since a session has one user at a time.
type Replica struct {
	name    string
	index   int
	cfg     Config
	factory broker.ConnectionFactory
	logger  *slog.Logger

	mu       sync.Mutex
	conn     broker.Connection
	session  broker.Session
	producer broker.Producer
	dest     broker.Destination
	closed   bool
}

// NewReplica creates replica index of a pool
func NewReplica(cfg Config, index int, factory broker.ConnectionFactory, logger *slog.Logger) *Replica {
	if logger == nil {
		logger = slog.Default()
	}
	name := fmt.Sprintf("sender:%s#%d", cfg.Name, index)
	return &Replica{
		name:    name,
		index:   index,
		cfg:     cfg,
		factory: factory,
		logger:  logger.With("replica", name),
	}
}

// Name implements reconnect.Resource
func (r *Replica) Name() string {
	return r.name
}

// Index returns the position of the replica in its pool
func (r *Replica) Index() int {
	return r.index
}

// Connect implements reconnect.Resource
func (r *Replica) Connect(ctx context.Context, failures chan<- error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return broker.ErrClosed
	}
	r.teardownLocked()

	conn, err := r.factory.CreateConnection(ctx)
	if err != nil {
		return err
	}

	session, producer, dest, err := r.setup(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	conn.NotifyFailure(failures)

	if err := conn.Start(); err != nil {
		_ = conn.Close()
		return broker.Wrap("start connection", err)
	}

	r.conn = conn
	r.session = session
	r.producer = producer
	r.dest = dest

	r.logger.Debug("replica connected")
	return nil
}

func (r *Replica) setup(conn broker.Connection) (broker.Session, broker.Producer, broker.Destination, error) {
	session, err := conn.CreateSession()
	if err != nil {
		return nil, nil, nil, broker.Wrap("create session", err)
	}

	producer, err := session.CreateProducer()
	if err != nil {
		return nil, nil, nil, broker.Wrap("create producer", err)
	}

	if r.cfg.Customizer != nil {
		if err := r.cfg.Customizer.CustomizeProducer(producer); err != nil {
			return nil, nil, nil, broker.Wrap("customize producer", err)
		}
	}

	var dest broker.Destination
	if provider := r.cfg.provider(); provider != nil {
		dest, err = provider(session)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return session, producer, dest, nil
}

// Send builds a message with creator and sends it to dest, or to the default
// destination when dest is nil. Creator errors are returned unchanged,
// broker errors as *broker.RuntimeError.
func (r *Replica) Send(ctx context.Context, dest broker.Destination, creator MessageCreator) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.producer == nil {
		return "", broker.Wrap("send", broker.ErrNotConnected)
	}
	if dest == nil {
		dest = r.dest
	}
	if dest == nil {
		return "", broker.ErrNoDefaultDestination
	}

	msg, err := creator.CreateMessage(r.session)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", fmt.Errorf("%w: message creator returned no message", broker.ErrInvalidConfiguration)
	}

	if err := r.producer.Send(ctx, dest, msg); err != nil {
		return "", broker.Wrap("send", err)
	}
	return msg.ID, nil
}

// DefaultDestination returns the destination used by sends without one
func (r *Replica) DefaultDestination() broker.Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dest
}

// Close implements reconnect.Resource
func (r *Replica) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownLocked()
	r.closed = true
	return nil
}

func (r *Replica) teardownLocked() {
	if r.conn == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		r.logger.Debug("session close failed", "error", err)
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Debug("connection close failed", "error", err)
	}
	r.conn = nil
	r.session = nil
	r.producer = nil
	r.dest = nil
}
