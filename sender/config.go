// Package sender spreads outgoing messages over N independent replicas,
// each with its own connection, session and producer.
package sender

import (
	"fmt"

	"github.com/davideduma/commons-jms/balance"
	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/queues"
)

// ErrInvalidSender is returned for invalid sender configurations
var ErrInvalidSender = fmt.Errorf("%w: sender", broker.ErrInvalidConfiguration)

// Config describes a sender pool
type Config struct {
	// Name identifies the pool in logs and health events
	Name string

	// ConnectionFactory selects a registered factory, empty for the default
	ConnectionFactory string

	// Connections is the number of replicas, default 1
	Connections int

	// Queue is the default destination, optional
	Queue string

	// Destination resolves the default destination on connect. It is an
	// alternative to Queue, for example queues.TemporaryQueue.
	Destination queues.Provider

	// QueueCustomizer is applied to the default Queue
	QueueCustomizer queues.Customizer

	// Customizer is applied to every replica's producer on connect
	Customizer ProducerCustomizer

	// Strategy selects a replica per send, default round-robin
	Strategy balance.Strategy
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSender)
	}
	if c.Queue != "" && c.Destination != nil {
		return fmt.Errorf("%w: queue %q and destination provider are mutually exclusive", ErrInvalidSender, c.Queue)
	}
	if c.Connections < 0 {
		return fmt.Errorf("%w: connections must not be negative", ErrInvalidSender)
	}
	return nil
}

func (c Config) provider() queues.Provider {
	if c.Destination != nil {
		return c.Destination
	}
	if c.Queue != "" {
		return queues.FixedQueue(c.Queue, c.QueueCustomizer)
	}
	return nil
}

// MessageCreator builds the message for one send. It runs on the session of
// the replica that performs the send.
type MessageCreator interface {
	CreateMessage(session broker.Session) (*broker.Message, error)
}

// MessageCreatorFunc adapts a function to MessageCreator
type MessageCreatorFunc func(session broker.Session) (*broker.Message, error)

// CreateMessage implements MessageCreator
func (f MessageCreatorFunc) CreateMessage(session broker.Session) (*broker.Message, error) {
	return f(session)
}

// Text returns a creator for a text message
func Text(body string) MessageCreator {
	return MessageCreatorFunc(func(broker.Session) (*broker.Message, error) {
		return broker.NewTextMessage(body), nil
	})
}

// Message returns a creator sending a copy of msg
func Message(msg *broker.Message) MessageCreator {
	return MessageCreatorFunc(func(broker.Session) (*broker.Message, error) {
		return msg.Clone(), nil
	})
}

// ProducerCustomizer adjusts a producer once per connect
type ProducerCustomizer interface {
	CustomizeProducer(producer broker.Producer) error
}

// ProducerCustomizerFunc adapts a function to ProducerCustomizer
type ProducerCustomizerFunc func(producer broker.Producer) error

// CustomizeProducer implements ProducerCustomizer
func (f ProducerCustomizerFunc) CustomizeProducer(producer broker.Producer) error {
	return f(producer)
}

// DeliveryOptions returns a customizer setting the producer's delivery options
func DeliveryOptions(opts broker.ProducerOptions) ProducerCustomizer {
	return ProducerCustomizerFunc(func(producer broker.Producer) error {
		producer.SetOptions(opts)
		return nil
	})
}
