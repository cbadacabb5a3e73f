package memory

import (
	"sync"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/selector"
)

type queue struct {
	name      string
	temporary bool

	mu        sync.Mutex
	messages  []*broker.Message
	signal    chan struct{} // closed and replaced whenever the queue changes
	consumers int
	deleted   bool
}

func newQueue(name string, temporary bool) *queue {
	return &queue{
		name:      name,
		temporary: temporary,
		signal:    make(chan struct{}),
	}
}

func (q *queue) destination() broker.Destination {
	return broker.Queue{QueueName: q.name, IsTemporary: q.temporary}
}

func (q *queue) put(msg *broker.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleted {
		return false
	}
	q.messages = append(q.messages, msg)
	q.broadcast()
	return true
}

// take removes and returns the first message matching sel. Expired messages
// are discarded on the way.
func (q *queue) take(sel *selector.Selector, now time.Time) *broker.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.messages[:0]
	var found *broker.Message
	for _, msg := range q.messages {
		switch {
		case msg.Expired(now):
		case found == nil && sel.Matches(msg):
			found = msg
		default:
			kept = append(kept, msg)
		}
	}
	for i := len(kept); i < len(q.messages); i++ {
		q.messages[i] = nil
	}
	q.messages = kept
	return found
}

// state returns the channel closed on the next change and whether the
// queue was deleted
func (q *queue) state() (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signal, q.deleted
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *queue) addConsumer(delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers += delta
}

func (q *queue) consumerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumers
}

func (q *queue) delete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = true
	q.messages = nil
	q.broadcast()
}

// broadcast must be called with q.mu held
func (q *queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}
