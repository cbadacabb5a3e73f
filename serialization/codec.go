package serialization

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/sender"
)

// ContentTypeHeader carries the body encoding
const ContentTypeHeader = "contentType"

// ContentTypeJSON is the value of ContentTypeHeader for encoded messages
const ContentTypeJSON = "application/json"

// JSONCodec encodes registered types as JSON message bodies
type JSONCodec struct {
	registry *TypeRegistry
}

// NewJSONCodec creates a codec over registry. A nil registry gets a fresh one.
func NewJSONCodec(registry *TypeRegistry) *JSONCodec {
	if registry == nil {
		registry = NewTypeRegistry()
	}
	return &JSONCodec{registry: registry}
}

// Registry returns the codec's type registry
func (c *JSONCodec) Registry() *TypeRegistry {
	return c.registry
}

// Marshal builds a message from v. The type must be registered.
func (c *JSONCodec) Marshal(v any) (*broker.Message, error) {
	typeName, err := c.registry.TypeName(v)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", typeName, err)
	}

	msg := &broker.Message{Type: typeName, Body: body}
	msg.SetHeader(ContentTypeHeader, ContentTypeJSON)
	return msg, nil
}

// Encode returns a creator that sends v as a JSON message
func (c *JSONCodec) Encode(v any) sender.MessageCreator {
	return sender.MessageCreatorFunc(func(broker.Session) (*broker.Message, error) {
		return c.Marshal(v)
	})
}

// Decode unmarshals msg into a new value of the type named by msg.Type
func (c *JSONCodec) Decode(msg *broker.Message) (any, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	v, err := c.registry.New(msg.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", msg.Type, err)
	}
	return v, nil
}

// Handler adapts a typed function to listener.Handler. Messages that fail to
// decode are reported as handler errors without calling fn.
func (c *JSONCodec) Handler(fn func(ctx context.Context, v any, msg *broker.Message) error) listener.Handler {
	return listener.HandlerFunc(func(ctx context.Context, msg *broker.Message) error {
		v, err := c.Decode(msg)
		if err != nil {
			return err
		}
		return fn(ctx, v, msg)
	})
}
