package jms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/correlator"
	"github.com/davideduma/commons-jms/health"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/reconnect"
	"github.com/davideduma/commons-jms/sender"
	"github.com/davideduma/commons-jms/transports/memory"
)

func noop() listener.Handler {
	return listener.HandlerFunc(func(context.Context, *broker.Message) error { return nil })
}

func newClient(b *memory.Broker, opts ...ClientOption) *Client {
	opts = append([]ClientOption{
		WithDefaultConnectionFactory(b),
		WithReconnectPolicy(reconnect.Immediate(-1)),
		WithListenerPollTimeout(20 * time.Millisecond),
	}, opts...)
	return New(opts...)
}

func TestRegistration(t *testing.T) {
	t.Run("invalid listener is rejected before connecting", func(t *testing.T) {
		b := memory.NewBroker()
		c := newClient(b)
		defer c.Close()

		err := c.RegisterListener(listener.Config{Queue: "A", TempQueueAlias: "B"}, noop())
		assert.ErrorIs(t, err, listener.ErrInvalidListener)

		err = c.RegisterListener(listener.Config{}, noop())
		assert.ErrorIs(t, err, broker.ErrInvalidConfiguration)

		require.NoError(t, c.Start(context.Background()))
		assert.Zero(t, b.Connections())
		assert.Empty(t, c.Listeners())
	})

	t.Run("unknown connection factory", func(t *testing.T) {
		c := newClient(memory.NewBroker())
		err := c.RegisterListener(listener.Config{Queue: "Q", ConnectionFactory: "other"}, noop())
		assert.ErrorIs(t, err, broker.ErrInvalidConfiguration)
		assert.Contains(t, err.Error(), `"other"`)
	})

	t.Run("named factories", func(t *testing.T) {
		primary, secondary := memory.NewBroker(), memory.NewBroker()
		c := New(WithDefaultConnectionFactory(primary), WithConnectionFactory("secondary", secondary))
		defer c.Close()

		require.NoError(t, c.RegisterListener(listener.Config{Queue: "Q", ConnectionFactory: "secondary"}, noop()))
		require.NoError(t, c.Start(context.Background()))

		assert.Zero(t, primary.Connections())
		assert.Equal(t, 1, secondary.Connections())
	})

	t.Run("duplicate names", func(t *testing.T) {
		c := newClient(memory.NewBroker())
		require.NoError(t, c.RegisterSender(sender.Config{Name: "out"}))
		assert.ErrorIs(t, c.RegisterSender(sender.Config{Name: "out"}), sender.ErrInvalidSender)

		require.NoError(t, c.RegisterCorrelator(correlator.Config{Name: "rpc"}))
		assert.ErrorIs(t, c.RegisterCorrelator(correlator.Config{Name: "rpc"}), correlator.ErrInvalidCorrelator)
	})

	t.Run("registration after start", func(t *testing.T) {
		c := newClient(memory.NewBroker())
		defer c.Close()
		require.NoError(t, c.Start(context.Background()))

		assert.ErrorIs(t, c.RegisterListener(listener.Config{Queue: "Q"}, noop()), ErrAlreadyStarted)
		assert.ErrorIs(t, c.RegisterSender(sender.Config{Name: "s"}), ErrAlreadyStarted)
		assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
	})

	t.Run("lookups", func(t *testing.T) {
		c := newClient(memory.NewBroker())
		_, err := c.Sender("missing")
		assert.ErrorIs(t, err, ErrUnknownComponent)
		_, err = c.Correlator("missing")
		assert.ErrorIs(t, err, ErrUnknownComponent)
		_, err = c.Requester("missing", "missing")
		assert.ErrorIs(t, err, ErrUnknownComponent)
	})
}

func TestStartAndClose(t *testing.T) {
	t.Run("connects every component", func(t *testing.T) {
		b := memory.NewBroker()
		c := newClient(b)

		require.NoError(t, c.RegisterListener(listener.Config{Queue: "IN", Concurrency: 3}, noop()))
		require.NoError(t, c.RegisterSender(sender.Config{Name: "out", Queue: "OUT", Connections: 2}))
		require.NoError(t, c.RegisterCorrelator(correlator.Config{Name: "rpc", Queue: "REPLY"}))
		require.NoError(t, c.Start(context.Background()))

		assert.Equal(t, 4, b.Connections())
		assert.Equal(t, 3, b.ConsumerCount("IN"))

		dest, err := c.Queues().Lookup("IN")
		require.NoError(t, err)
		assert.Equal(t, "IN", dest.Name())

		h := c.Health(context.Background())
		assert.Equal(t, health.StatusHealthy, h.Status)
		assert.Len(t, h.Checks, 4)
		assert.Contains(t, h.Checks, "listener:IN")
		assert.Contains(t, h.Checks, "sender:out#1")
		assert.Contains(t, h.Checks, "correlator:rpc#0")

		require.NoError(t, c.Close())
		assert.Zero(t, b.Connections())
		assert.NoError(t, c.Close())
		assert.ErrorIs(t, c.Start(context.Background()), broker.ErrClosed)
	})

	t.Run("listeners register temporary queues before correlators resolve them", func(t *testing.T) {
		b := memory.NewBroker()
		c := newClient(b)
		defer c.Close()

		require.NoError(t, c.RegisterCorrelator(correlator.Config{Name: "rpc", TempQueueAlias: "replies"}))
		require.NoError(t, c.RegisterListener(listener.Config{TempQueueAlias: "replies"}, noop()))
		require.NoError(t, c.Start(context.Background()))

		registered, err := c.Queues().Lookup("replies")
		require.NoError(t, err)
		assert.True(t, registered.Temporary())

		r, err := c.Correlator("rpc")
		require.NoError(t, err)
		dest, err := r.DefaultDestination()
		require.NoError(t, err)
		assert.Equal(t, registered.Name(), dest.Name())
	})

	t.Run("unavailable broker reports unhealthy components", func(t *testing.T) {
		b := memory.NewBroker()
		b.SetUnavailable(errors.New("connection refused"))
		rec := health.NewRecorder()
		c := newClient(b, WithHealthSink(rec))
		defer c.Close()

		require.NoError(t, c.RegisterListener(listener.Config{Queue: "IN"}, noop()))
		err := c.Start(context.Background())
		assert.True(t, broker.IsRuntime(err))

		h := c.Health(context.Background())
		assert.NotEqual(t, health.StatusHealthy, h.Status)
		assert.Equal(t, 1, rec.Count(health.EventError, "listener:IN"))
	})

	t.Run("exhausted policy fails the component", func(t *testing.T) {
		b := memory.NewBroker()
		rec := health.NewRecorder()
		c := newClient(b, WithHealthSink(rec), WithReconnectPolicy(reconnect.Immediate(0)))
		defer c.Close()

		require.NoError(t, c.RegisterListener(listener.Config{Queue: "IN"}, noop()))
		require.NoError(t, c.Start(context.Background()))

		b.FailConnections(errors.New("dropped"))
		require.True(t, rec.WaitFor(health.EventFailed, "listener:IN", 1, time.Second))

		h := c.Health(context.Background())
		assert.Equal(t, health.StatusUnhealthy, h.Status)
		assert.Equal(t, "failed", h.Checks["listener:IN"].Details["state"])
	})
}

func startEcho(t *testing.T, b *memory.Broker, concurrency int) *Client {
	t.Helper()

	c := New(
		WithDefaultConnectionFactory(b),
		WithListenerPollTimeout(20*time.Millisecond),
	)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.RegisterSender(sender.Config{Name: "requests", Queue: "REQUESTS"}))
	require.NoError(t, c.RegisterSender(sender.Config{Name: "replier"}))
	require.NoError(t, c.RegisterCorrelator(correlator.Config{Name: "rpc", Queue: "REPLIES", Timeout: 2 * time.Second, Connections: 2}))

	replier, err := c.Sender("replier")
	require.NoError(t, err)
	handler := listener.HandlerFunc(func(ctx context.Context, msg *broker.Message) error {
		_, err := Reply(ctx, replier, msg, sender.Text("echo:"+msg.Text()))
		return err
	})
	require.NoError(t, c.RegisterListener(listener.Config{Queue: "REQUESTS", Concurrency: concurrency}, handler))

	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestRequestReply(t *testing.T) {
	t.Run("request queued before start is answered", func(t *testing.T) {
		b := memory.NewBroker()

		pending := broker.NewTextMessage("early")
		pending.ReplyTo = broker.Queue{QueueName: "REPLIES"}
		id := b.Publish("REQUESTS", pending)

		startEcho(t, b, 2)

		require.Eventually(t, func() bool { return b.Depth("REPLIES") == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.Zero(t, b.Depth("REQUESTS"))
		assert.NotEmpty(t, id)
	})

	t.Run("single request", func(t *testing.T) {
		b := memory.NewBroker()
		c := startEcho(t, b, 1)

		requester, err := c.Requester("requests", "rpc")
		require.NoError(t, err)

		reply, err := requester.Request(context.Background(), sender.Text("ping"))
		require.NoError(t, err)
		assert.Equal(t, "echo:ping", reply.Text())
		assert.Zero(t, b.Depth("REPLIES"))
	})

	t.Run("concurrent requests get their own replies", func(t *testing.T) {
		b := memory.NewBroker()
		c := startEcho(t, b, 3)

		requester, err := c.Requester("requests", "rpc")
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body := fmt.Sprintf("req-%d", i)
				reply, err := requester.Request(context.Background(), sender.Text(body))
				if err == nil && reply.Text() != "echo:"+body {
					err = fmt.Errorf("reply %q for %q", reply.Text(), body)
				}
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
	})

	t.Run("explicit request destination", func(t *testing.T) {
		b := memory.NewBroker()
		c := startEcho(t, b, 1)

		requester, err := c.Requester("replier", "rpc")
		require.NoError(t, err)

		reply, err := requester.RequestTo(context.Background(), broker.Queue{QueueName: "REQUESTS"}, sender.Text("x"))
		require.NoError(t, err)
		assert.Equal(t, "echo:x", reply.Text())

		_, err = requester.Request(context.Background(), sender.Text("x"))
		assert.ErrorIs(t, err, broker.ErrNoDefaultDestination)
	})

	t.Run("no replier times out", func(t *testing.T) {
		b := memory.NewBroker()
		c, err := Bootstrap(context.Background(), Bindings{
			Senders:     []sender.Config{{Name: "requests", Queue: "NOBODY"}},
			Correlators: []correlator.Config{{Name: "rpc", Queue: "REPLIES", Timeout: 50 * time.Millisecond}},
		}, WithDefaultConnectionFactory(b))
		require.NoError(t, err)
		defer c.Close()

		requester, err := c.Requester("requests", "rpc")
		require.NoError(t, err)

		_, err = requester.Request(context.Background(), sender.Text("hello?"))
		assert.ErrorIs(t, err, broker.ErrReceiveTimeout)
		assert.Equal(t, 1, b.Depth("NOBODY"))
	})

	t.Run("reply needs a reply destination", func(t *testing.T) {
		_, err := Reply(context.Background(), nil, broker.NewTextMessage("x"), sender.Text("y"))
		assert.ErrorIs(t, err, broker.ErrNoDefaultDestination)
	})

	t.Run("requester needs both sides", func(t *testing.T) {
		_, err := NewRequester(nil, nil)
		assert.ErrorIs(t, err, broker.ErrInvalidConfiguration)
	})
}

func TestBootstrap(t *testing.T) {
	t.Run("registration errors connect nothing", func(t *testing.T) {
		b := memory.NewBroker()
		_, err := Bootstrap(context.Background(), Bindings{
			Listeners: []ListenerBinding{
				{Config: listener.Config{Queue: "OK"}, Handler: noop()},
				{Config: listener.Config{}, Handler: noop()},
			},
			Senders: []sender.Config{{}},
		}, WithDefaultConnectionFactory(b))

		assert.ErrorIs(t, err, listener.ErrInvalidListener)
		assert.ErrorIs(t, err, sender.ErrInvalidSender)
		assert.Zero(t, b.Connections())
	})

	t.Run("handler and reactive handler are exclusive", func(t *testing.T) {
		reactive := listener.ReactiveHandlerFunc(func(context.Context, *broker.Message) <-chan error {
			done := make(chan error, 1)
			done <- nil
			return done
		})
		_, err := Bootstrap(context.Background(), Bindings{
			Listeners: []ListenerBinding{{Config: listener.Config{Queue: "Q"}, Handler: noop(), Reactive: reactive}},
		}, WithDefaultConnectionFactory(memory.NewBroker()))
		assert.ErrorIs(t, err, listener.ErrInvalidListener)
	})

	t.Run("reactive listeners", func(t *testing.T) {
		b := memory.NewBroker()
		received := make(chan string, 1)
		reactive := listener.ReactiveHandlerFunc(func(_ context.Context, msg *broker.Message) <-chan error {
			done := make(chan error, 1)
			go func() {
				received <- msg.Text()
				done <- nil
			}()
			return done
		})

		c, err := Bootstrap(context.Background(), Bindings{
			Listeners: []ListenerBinding{{Config: listener.Config{Queue: "Q"}, Reactive: reactive}},
		}, WithDefaultConnectionFactory(b), WithListenerPollTimeout(20*time.Millisecond))
		require.NoError(t, err)
		defer c.Close()

		b.Publish("Q", broker.NewTextMessage("async"))
		select {
		case got := <-received:
			assert.Equal(t, "async", got)
		case <-time.After(2 * time.Second):
			t.Fatal("message not handled")
		}
	})

	t.Run("start errors close the client", func(t *testing.T) {
		b := memory.NewBroker()
		b.SetUnavailable(errors.New("down"))

		_, err := Bootstrap(context.Background(), Bindings{
			Senders: []sender.Config{{Name: "out", Queue: "Q"}},
		}, WithDefaultConnectionFactory(b))
		assert.True(t, broker.IsRuntime(err))

		b.SetUnavailable(nil)
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, b.Connections())
	})
}
