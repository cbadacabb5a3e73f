package queues

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davideduma/commons-jms/broker"
)

type mockSession struct {
	mock.Mock
}

func (m *mockSession) CreateQueue(name string) (broker.Destination, error) {
	args := m.Called(name)
	dest, _ := args.Get(0).(broker.Destination)
	return dest, args.Error(1)
}

func (m *mockSession) CreateTemporaryQueue() (broker.Destination, error) {
	args := m.Called()
	dest, _ := args.Get(0).(broker.Destination)
	return dest, args.Error(1)
}

func (m *mockSession) CreateConsumer(dest broker.Destination, selector string) (broker.Consumer, error) {
	args := m.Called(dest, selector)
	c, _ := args.Get(0).(broker.Consumer)
	return c, args.Error(1)
}

func (m *mockSession) CreateProducer() (broker.Producer, error) {
	args := m.Called()
	p, _ := args.Get(0).(broker.Producer)
	return p, args.Error(1)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

type mockCustomizer struct {
	mock.Mock
}

func (m *mockCustomizer) Customize(dest broker.Destination) error {
	return m.Called(dest).Error(0)
}

func TestSetupFixedQueue(t *testing.T) {
	queue := broker.Queue{QueueName: "DEV.QUEUE.1"}

	t.Run("creates queue and applies customizer", func(t *testing.T) {
		session := &mockSession{}
		session.On("CreateQueue", "DEV.QUEUE.1").Return(queue, nil)
		customizer := &mockCustomizer{}
		customizer.On("Customize", queue).Return(nil)

		dest, err := SetupFixedQueue(session, "DEV.QUEUE.1", customizer)
		require.NoError(t, err)
		assert.Equal(t, queue, dest)
		session.AssertExpectations(t)
		customizer.AssertExpectations(t)
	})

	t.Run("works without customizer", func(t *testing.T) {
		session := &mockSession{}
		session.On("CreateQueue", "DEV.QUEUE.1").Return(queue, nil)

		dest, err := FixedQueue("DEV.QUEUE.1", nil)(session)
		require.NoError(t, err)
		assert.Equal(t, "DEV.QUEUE.1", dest.Name())
	})

	t.Run("customizer failure is wrapped", func(t *testing.T) {
		cause := errors.New("attribute rejected")
		session := &mockSession{}
		session.On("CreateQueue", "DEV.QUEUE.1").Return(queue, nil)

		_, err := SetupFixedQueue(session, "DEV.QUEUE.1", CustomizerFunc(func(broker.Destination) error {
			return cause
		}))

		var rt *broker.RuntimeError
		require.ErrorAs(t, err, &rt)
		assert.Equal(t, "customize", rt.Op)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("create failure is wrapped", func(t *testing.T) {
		session := &mockSession{}
		session.On("CreateQueue", "DEV.QUEUE.1").Return(nil, errors.New("not authorized"))

		_, err := SetupFixedQueue(session, "DEV.QUEUE.1", nil)

		var rt *broker.RuntimeError
		require.ErrorAs(t, err, &rt)
		assert.Equal(t, "create queue", rt.Op)
	})

	t.Run("empty name is a configuration error", func(t *testing.T) {
		_, err := SetupFixedQueue(&mockSession{}, "", nil)
		assert.ErrorIs(t, err, broker.ErrInvalidConfiguration)
	})
}

func TestSetupTemporaryQueue(t *testing.T) {
	tmp := broker.Queue{QueueName: "amq.gen-1", IsTemporary: true}

	t.Run("creates temporary queue", func(t *testing.T) {
		session := &mockSession{}
		session.On("CreateTemporaryQueue").Return(tmp, nil)
		customizer := &mockCustomizer{}
		customizer.On("Customize", tmp).Return(nil)

		dest, err := TemporaryQueue(customizer)(session)
		require.NoError(t, err)
		assert.True(t, dest.Temporary())
		customizer.AssertExpectations(t)
	})

	t.Run("customizer failure is wrapped", func(t *testing.T) {
		session := &mockSession{}
		session.On("CreateTemporaryQueue").Return(tmp, nil)
		customizer := &mockCustomizer{}
		customizer.On("Customize", tmp).Return(errors.New("nope"))

		_, err := SetupTemporaryQueue(session, customizer)
		assert.True(t, broker.IsRuntime(err))
	})

	t.Run("create failure is wrapped", func(t *testing.T) {
		session := &mockSession{}
		session.On("CreateTemporaryQueue").Return(nil, errors.New("closed"))

		_, err := SetupTemporaryQueue(session, nil)

		var rt *broker.RuntimeError
		require.ErrorAs(t, err, &rt)
		assert.Equal(t, "create temporary queue", rt.Op)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		reg := NewRegistry()
		dest := broker.Queue{QueueName: "tmp-1", IsTemporary: true}
		reg.Register("replies", dest)

		got, err := reg.Lookup("replies")
		require.NoError(t, err)
		assert.Equal(t, dest, got)
		assert.Equal(t, []string{"replies"}, reg.Aliases())
	})

	t.Run("missing alias", func(t *testing.T) {
		_, err := NewRegistry().Lookup("nope")
		assert.ErrorIs(t, err, broker.ErrDestinationNotFound)
	})

	t.Run("RemoveIf keeps newer registrations", func(t *testing.T) {
		reg := NewRegistry()
		old := broker.Queue{QueueName: "tmp-1", IsTemporary: true}
		newer := broker.Queue{QueueName: "tmp-2", IsTemporary: true}

		reg.Register("replies", old)
		reg.Register("replies", newer)

		assert.False(t, reg.RemoveIf("replies", old))
		got, err := reg.Lookup("replies")
		require.NoError(t, err)
		assert.Equal(t, newer, got)

		assert.True(t, reg.RemoveIf("replies", newer))
		reg.Remove("replies")
		assert.Empty(t, reg.Aliases())
	})

	t.Run("concurrent use", func(t *testing.T) {
		reg := NewRegistry()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				reg.Register("a", broker.Queue{QueueName: "q"})
			}()
			go func() {
				defer wg.Done()
				_, _ = reg.Lookup("a")
				_ = reg.Aliases()
			}()
		}
		wg.Wait()
		assert.Equal(t, []string{"a"}, reg.Aliases())
	})
}
