// Package rabbitmq implements the broker abstraction on top of RabbitMQ.
//
// This package includes:
//   - Dialer: opens AMQP connections with a dial timeout
//   - Connection: forwards NotifyClose to the reconnect engine
//   - Session: one AMQP channel, declares durable and temporary queues
//   - Consumer: push consumption, or a Get/Nack sweep when a selector is set
//   - Producer: publishes to queues through the default exchange
//
// AMQP has no server-side selectors. Consumers with a selector poll the queue
// with basic.get, keep the first match and requeue everything else, which is
// adequate for reply queues but not for high-volume queues.
package rabbitmq
