package health

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// LogSink writes events to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging to logger, or slog.Default() when nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// OnEvent implements Sink
func (s *LogSink) OnEvent(e Event) {
	attrs := []any{"resource", e.Resource, "event", e.Kind.String()}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}

	switch e.Kind {
	case EventConnected:
		s.logger.Info("resource connected", attrs...)
	case EventConnecting:
		s.logger.Debug("resource connecting", attrs...)
	case EventDisconnected:
		s.logger.Warn("resource disconnected", attrs...)
	case EventFailed:
		s.logger.Error("resource failed", attrs...)
	default:
		s.logger.Error("resource error", attrs...)
	}
}

// Multi fans an event out to several sinks in order
type Multi []Sink

// OnEvent implements Sink
func (m Multi) OnEvent(e Event) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(e)
		}
	}
}

// Async delivers events to a wrapped sink on its own goroutine. Events are
// dropped when the buffer is full so OnEvent never blocks.
type Async struct {
	sink    Sink
	events  chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsync starts delivering to sink with the given buffer size
func NewAsync(sink Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		sink:   sink,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.events {
		a.sink.OnEvent(e)
	}
}

// OnEvent implements Sink
func (a *Async) OnEvent(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped because the buffer was full
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones were delivered
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()
	})
	<-a.done
}

// Recorder keeps every event in memory. It is meant for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{})}
}

// OnEvent implements Sink
func (r *Recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	close(r.notify)
	r.notify = make(chan struct{})
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Kinds returns the kinds recorded for resource, or for every resource when
// resource is empty
func (r *Recorder) Kinds(resource string) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []Kind
	for _, e := range r.events {
		if resource == "" || e.Resource == resource {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Count returns how many events of kind were recorded for resource (any
// resource when empty)
func (r *Recorder) Count(kind Kind, resource string) int {
	n := 0
	for _, k := range r.Kinds(resource) {
		if k == kind {
			n++
		}
	}
	return n
}

// WaitFor blocks until at least n events of kind were recorded for resource
// (any resource when empty), or the timeout elapses
func (r *Recorder) WaitFor(kind Kind, resource string, n int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		r.mu.Lock()
		notify := r.notify
		r.mu.Unlock()

		if r.Count(kind, resource) >= n {
			return true
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return false
		}
	}
}

// Reset discards the recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
