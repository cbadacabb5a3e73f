// Package broker defines the session-oriented broker abstraction the rest of
// commons-jms is built on.
//
// The abstraction follows the JMS shape:
//   - ConnectionFactory: creates physical connections
//   - Connection: owns sessions and reports out-of-band failures on a channel
//   - Session: creates destinations, consumers and producers; used by one goroutine
//   - Consumer: blocking receive with a timeout and an optional selector
//   - Producer: sends a Message to a Destination
//
// Concrete implementations live under transports/ (an in-memory broker and a
// RabbitMQ adapter). The package also holds the error taxonomy shared by all
// components.
package broker
