package serialization

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davideduma/commons-jms/broker"
)

type PlaceOrder struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

type OrderPlaced struct {
	OrderID string `json:"orderId"`
}

func TestTypeRegistry(t *testing.T) {
	t.Run("registers type with name", func(t *testing.T) {
		registry := NewTypeRegistry()
		require.NoError(t, registry.Register("orders.place", &PlaceOrder{}))

		assert.True(t, registry.IsRegistered("orders.place"))
		name, err := registry.TypeName(PlaceOrder{})
		require.NoError(t, err)
		assert.Equal(t, "orders.place", name)
	})

	t.Run("registers type under struct name", func(t *testing.T) {
		registry := NewTypeRegistry()
		require.NoError(t, registry.RegisterType(OrderPlaced{}))
		require.NoError(t, registry.RegisterType(&PlaceOrder{}))

		assert.Equal(t, []string{"OrderPlaced", "PlaceOrder"}, registry.Types())
	})

	t.Run("same registration twice is allowed", func(t *testing.T) {
		registry := NewTypeRegistry()
		require.NoError(t, registry.Register("a", PlaceOrder{}))
		assert.NoError(t, registry.Register("a", &PlaceOrder{}))
	})

	t.Run("rejects conflicts and invalid types", func(t *testing.T) {
		registry := NewTypeRegistry()
		require.NoError(t, registry.Register("a", PlaceOrder{}))

		assert.ErrorIs(t, registry.Register("a", OrderPlaced{}), ErrInvalidType)
		assert.ErrorIs(t, registry.Register("b", PlaceOrder{}), ErrInvalidType)
		assert.ErrorIs(t, registry.Register("", OrderPlaced{}), ErrInvalidType)
		assert.ErrorIs(t, registry.Register("c", nil), ErrInvalidType)
		assert.ErrorIs(t, registry.Register("c", "text"), ErrInvalidType)
		assert.ErrorIs(t, registry.RegisterType(struct{ A int }{}), ErrInvalidType)
	})

	t.Run("unknown types", func(t *testing.T) {
		registry := NewTypeRegistry()

		_, err := registry.New("missing")
		assert.ErrorIs(t, err, ErrUnknownType)
		_, err = registry.TypeName(PlaceOrder{})
		assert.ErrorIs(t, err, ErrUnknownType)
		_, err = registry.TypeName(nil)
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("New returns pointer to zero value", func(t *testing.T) {
		registry := NewTypeRegistry()
		require.NoError(t, registry.Register("orders.place", PlaceOrder{}))

		v, err := registry.New("orders.place")
		require.NoError(t, err)
		assert.Equal(t, &PlaceOrder{}, v)
	})
}

func TestJSONCodec(t *testing.T) {
	newCodec := func(t *testing.T) *JSONCodec {
		c := NewJSONCodec(nil)
		require.NoError(t, c.Registry().Register("orders.place", PlaceOrder{}))
		return c
	}

	t.Run("encodes registered type", func(t *testing.T) {
		c := newCodec(t)

		msg, err := c.Encode(&PlaceOrder{OrderID: "o-1", Amount: 9.5}).CreateMessage(nil)
		require.NoError(t, err)
		assert.Equal(t, "orders.place", msg.Type)
		assert.JSONEq(t, `{"orderId":"o-1","amount":9.5}`, msg.Text())

		ct, ok := msg.Header(ContentTypeHeader)
		assert.True(t, ok)
		assert.Equal(t, ContentTypeJSON, ct)
	})

	t.Run("decodes by message type", func(t *testing.T) {
		c := newCodec(t)

		msg, err := c.Marshal(PlaceOrder{OrderID: "o-2", Amount: 1})
		require.NoError(t, err)

		v, err := c.Decode(msg)
		require.NoError(t, err)
		assert.Equal(t, &PlaceOrder{OrderID: "o-2", Amount: 1}, v)
	})

	t.Run("unregistered value fails", func(t *testing.T) {
		_, err := newCodec(t).Encode(OrderPlaced{}).CreateMessage(nil)
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("decode errors", func(t *testing.T) {
		c := newCodec(t)

		_, err := c.Decode(nil)
		assert.Error(t, err)

		_, err = c.Decode(&broker.Message{Type: "unknown", Body: []byte("{}")})
		assert.ErrorIs(t, err, ErrUnknownType)

		_, err = c.Decode(&broker.Message{Type: "orders.place", Body: []byte("not json")})
		assert.Error(t, err)
	})

	t.Run("typed handler", func(t *testing.T) {
		c := newCodec(t)
		var got *PlaceOrder
		h := c.Handler(func(ctx context.Context, v any, msg *broker.Message) error {
			got = v.(*PlaceOrder)
			return nil
		})

		msg, err := c.Marshal(PlaceOrder{OrderID: "o-3"})
		require.NoError(t, err)
		require.NoError(t, h.Handle(context.Background(), msg))
		assert.Equal(t, "o-3", got.OrderID)

		err = h.Handle(context.Background(), &broker.Message{Type: "unknown"})
		assert.True(t, errors.Is(err, ErrUnknownType))
	})
}
