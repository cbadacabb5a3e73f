package rabbitmq

import (
	"maps"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/davideduma/commons-jms/broker"
)

// temporaryPrefix is the prefix RabbitMQ gives server-named queues
const temporaryPrefix = "amq.gen-"

func destination(name string) broker.Destination {
	return broker.Queue{QueueName: name, IsTemporary: strings.HasPrefix(name, temporaryPrefix)}
}

// toPublishing maps a message onto AMQP properties. Expiration is sent as a
// per-message TTL in milliseconds relative to the timestamp.
func toPublishing(msg *broker.Message) amqp.Publishing {
	pub := amqp.Publishing{
		MessageId:     msg.ID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Type,
		Body:          msg.Body,
		Timestamp:     msg.Timestamp,
		Priority:      msg.Priority,
		DeliveryMode:  amqp.Transient,
	}
	if msg.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	if len(msg.Headers) > 0 {
		pub.Headers = amqp.Table(maps.Clone(msg.Headers))
	}
	if msg.ReplyTo != nil {
		pub.ReplyTo = msg.ReplyTo.Name()
	}
	if !msg.Expiration.IsZero() {
		ttl := msg.Expiration.Sub(msg.Timestamp).Milliseconds()
		if ttl < 1 {
			ttl = 1
		}
		pub.Expiration = strconv.FormatInt(ttl, 10)
	}
	return pub
}

// fromDelivery maps an AMQP delivery back into a message
func fromDelivery(d amqp.Delivery) *broker.Message {
	msg := &broker.Message{
		ID:            d.MessageId,
		CorrelationID: d.CorrelationId,
		Type:          d.Type,
		Body:          d.Body,
		Headers:       make(map[string]any, len(d.Headers)),
		Destination:   destination(d.RoutingKey),
		Timestamp:     d.Timestamp,
		Priority:      d.Priority,
		Persistent:    d.DeliveryMode == amqp.Persistent,
	}
	for k, v := range d.Headers {
		msg.Headers[k] = v
	}
	if d.ReplyTo != "" {
		msg.ReplyTo = destination(d.ReplyTo)
	}
	if d.Expiration != "" && !d.Timestamp.IsZero() {
		if ms, err := strconv.ParseInt(d.Expiration, 10, 64); err == nil {
			msg.Expiration = d.Timestamp.Add(time.Duration(ms) * time.Millisecond)
		}
	}
	return msg
}
