package broker

import (
	"maps"
	"time"
)

// Message is the envelope exchanged with the broker. It is created by a
// message-construction callback, consumed by a Producer and produced again
// by a Consumer on the receiving side.
type Message struct {
	ID            string
	CorrelationID string
	Type          string
	Body          []byte
	Headers       map[string]any
	Destination   Destination
	ReplyTo       Destination
	Timestamp     time.Time
	Priority      uint8
	Persistent    bool
	Expiration    time.Time
}

// NewMessage creates a message carrying body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:    body,
		Headers: make(map[string]any),
	}
}

// NewTextMessage creates a message carrying a text body
func NewTextMessage(text string) *Message {
	return NewMessage([]byte(text))
}

// Text returns the body as a string
func (m *Message) Text() string {
	return string(m.Body)
}

// SetHeader sets a user header, allocating the map if needed
func (m *Message) SetHeader(key string, value any) {
	if m.Headers == nil {
		m.Headers = make(map[string]any)
	}
	m.Headers[key] = value
}

// Header returns a user header
func (m *Message) Header(key string) (any, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// Expired reports whether the message has an expiration that is before now
func (m *Message) Expired(now time.Time) bool {
	return !m.Expiration.IsZero() && now.After(m.Expiration)
}

// Clone returns a copy that does not share the body or headers
func (m *Message) Clone() *Message {
	c := *m
	if m.Body != nil {
		c.Body = append([]byte(nil), m.Body...)
	}
	if m.Headers != nil {
		c.Headers = maps.Clone(m.Headers)
	}
	return &c
}

// Properties returns the values a selector may reference: the user headers
// plus the JMS-style standard fields. Unset standard fields are left out so
// that IS NULL matches them.
func (m *Message) Properties() map[string]any {
	props := make(map[string]any, len(m.Headers)+5)
	for k, v := range m.Headers {
		props[k] = v
	}
	setString(props, "JMSMessageID", m.ID)
	setString(props, "JMSCorrelationID", m.CorrelationID)
	setString(props, "JMSType", m.Type)
	props["JMSPriority"] = int(m.Priority)
	if !m.Timestamp.IsZero() {
		props["JMSTimestamp"] = m.Timestamp.UnixMilli()
	}
	return props
}

func setString(props map[string]any, key, value string) {
	if value != "" {
		props[key] = value
	}
}
