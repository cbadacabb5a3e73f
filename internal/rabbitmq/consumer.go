package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/selector"
)

// maxSweep bounds how many messages one selector sweep holds unacked
const maxSweep = 256

// Consumer receives from one queue. Without a selector it registers a push
// consumer on first Receive; with one it sweeps the queue with basic.get.
type Consumer struct {
	session  *Session
	queue    string
	selector *selector.Selector
	tag      string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery

	closeOnce sync.Once
	done      chan struct{}
}

var _ broker.Consumer = (*Consumer)(nil)

// Receive implements broker.Consumer. Messages are acknowledged before they
// are returned.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.done:
		return nil, broker.ErrClosed
	default:
	}

	started, err := c.session.conn.waitStarted(ctx, expired)
	if !started {
		return nil, err
	}

	if c.selector.IsEmpty() {
		return c.receivePush(ctx, expired)
	}
	return c.receiveSweep(ctx, expired)
}

func (c *Consumer) receivePush(ctx context.Context, expired <-chan time.Time) (*broker.Message, error) {
	deliveries, err := c.consume()
	if err != nil {
		return nil, err
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, c.closedError("receive")
		}
		if err := d.Ack(false); err != nil {
			return nil, wrap("ack", err)
		}
		return fromDelivery(d), nil
	case <-expired:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, broker.ErrClosed
	}
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deliveries != nil {
		return c.deliveries, nil
	}

	ch := c.session.ch
	if err := ch.Qos(c.session.conn.dialer.prefetch, 0, false); err != nil {
		return nil, c.consumerError("qos", err)
	}
	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return nil, c.consumerError("consume", err)
	}
	c.deliveries = deliveries
	return deliveries, nil
}

func (c *Consumer) receiveSweep(ctx context.Context, expired <-chan time.Time) (*broker.Message, error) {
	poll := time.NewTicker(c.session.conn.dialer.pollInterval)
	defer poll.Stop()

	for {
		msg, err := c.sweep()
		if err != nil || msg != nil {
			return msg, err
		}

		select {
		case <-poll.C:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, broker.ErrClosed
		}
	}
}

// sweep takes the first matching message and requeues the ones it skipped
func (c *Consumer) sweep() (*broker.Message, error) {
	ch := c.session.ch
	var skipped []amqp.Delivery
	defer func() {
		for _, d := range skipped {
			_ = d.Nack(false, true)
		}
	}()

	for i := 0; i < maxSweep; i++ {
		d, ok, err := ch.Get(c.queue, false)
		if err != nil {
			return nil, c.consumerError("get", err)
		}
		if !ok {
			return nil, nil
		}

		msg := fromDelivery(d)
		if c.selector.Matches(msg) {
			if err := d.Ack(false); err != nil {
				return nil, wrap("ack", err)
			}
			return msg, nil
		}
		skipped = append(skipped, d)
	}
	return nil, nil
}

func (c *Consumer) consumerError(op string, err error) error {
	return wrap(op, &ConsumerError{
		Queue:       c.queue,
		ConsumerTag: c.tag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	})
}

func (c *Consumer) closedError(op string) error {
	select {
	case <-c.done:
		return broker.ErrClosed
	default:
	}
	if c.session.ch.IsClosed() {
		return wrap(op, ErrChannelClosed)
	}
	return c.consumerError(op, ErrConsumerCancelled)
}

// Close implements broker.Consumer
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		consuming := c.deliveries != nil
		c.mu.Unlock()

		if consuming && !c.session.ch.IsClosed() {
			err = c.session.ch.Cancel(c.tag, false)
		}
		c.session.removeConsumer(c)
	})
	return err
}
