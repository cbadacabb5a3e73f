package health

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	name      string
	state     string
	connected bool
	failed    bool
	err       error
}

func (f *fakeResource) Name() string      { return f.name }
func (f *fakeResource) StateName() string { return f.state }
func (f *fakeResource) Connected() bool   { return f.connected }
func (f *fakeResource) Failed() bool      { return f.failed }
func (f *fakeResource) LastError() error  { return f.err }

func TestKindString(t *testing.T) {
	assert.Equal(t, "connecting", EventConnecting.String())
	assert.Equal(t, "connected", EventConnected.String())
	assert.Equal(t, "disconnected", EventDisconnected.String())
	assert.Equal(t, "failed", EventFailed.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger)

	sink.OnEvent(NewEvent(EventConnected, "listener:Q", nil))
	sink.OnEvent(NewEvent(EventDisconnected, "listener:Q", errors.New("socket closed")))

	out := buf.String()
	assert.Contains(t, out, "resource connected")
	assert.Contains(t, out, "resource=listener:Q")
	assert.Contains(t, out, "resource disconnected")
	assert.Contains(t, out, "socket closed")
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Multi{a, nil, b}.OnEvent(NewEvent(EventConnected, "r", nil))

	assert.Equal(t, []Kind{EventConnected}, a.Kinds(""))
	assert.Equal(t, []Kind{EventConnected}, b.Kinds(""))
}

func TestAsync(t *testing.T) {
	t.Run("delivers events in order", func(t *testing.T) {
		rec := NewRecorder()
		async := NewAsync(rec, 8)

		async.OnEvent(NewEvent(EventConnecting, "r", nil))
		async.OnEvent(NewEvent(EventConnected, "r", nil))
		async.Close()

		assert.Equal(t, []Kind{EventConnecting, EventConnected}, rec.Kinds("r"))
	})

	t.Run("drops when full instead of blocking", func(t *testing.T) {
		release := make(chan struct{})
		var once sync.Once
		blocking := SinkFunc(func(Event) {
			once.Do(func() { <-release })
		})
		async := NewAsync(blocking, 1)

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				async.OnEvent(NewEvent(EventError, "r", nil))
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("OnEvent blocked")
		}

		close(release)
		async.Close()
		assert.Greater(t, async.Dropped(), uint64(0))
	})

	t.Run("ignores events after close", func(t *testing.T) {
		rec := NewRecorder()
		async := NewAsync(rec, 1)
		async.Close()
		async.OnEvent(NewEvent(EventConnected, "r", nil))
		assert.Empty(t, rec.Events())
	})
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()

	go func() {
		time.Sleep(10 * time.Millisecond)
		rec.OnEvent(NewEvent(EventDisconnected, "a", nil))
		rec.OnEvent(NewEvent(EventConnected, "a", nil))
	}()

	require.True(t, rec.WaitFor(EventConnected, "a", 1, time.Second))
	assert.Equal(t, []Kind{EventDisconnected, EventConnected}, rec.Kinds("a"))
	assert.Empty(t, rec.Kinds("b"))
	assert.False(t, rec.WaitFor(EventFailed, "a", 1, 20*time.Millisecond))

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	sink, err := NewMetricsSink(reg)
	require.NoError(t, err)

	sink.OnEvent(NewEvent(EventConnected, "sender:orders#0", nil))
	sink.OnEvent(NewEvent(EventDisconnected, "sender:orders#0", errors.New("x")))
	sink.OnEvent(NewEvent(EventConnected, "sender:orders#0", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues("sender:orders#0", "connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("sender:orders#0", "disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.connected.WithLabelValues("sender:orders#0")))

	expected := `
# HELP jms_resource_connected 1 while the resource holds a live connection, 0 otherwise.
# TYPE jms_resource_connected gauge
jms_resource_connected{resource="sender:orders#0"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "jms_resource_connected"))

	t.Run("duplicate registration fails", func(t *testing.T) {
		_, err := NewMetricsSink(reg)
		assert.Error(t, err)
	})
}

func TestResourceChecker(t *testing.T) {
	cases := []struct {
		name     string
		resource *fakeResource
		status   Status
		hasError bool
	}{
		{"connected", &fakeResource{name: "r", state: "connected", connected: true}, StatusHealthy, false},
		{"reconnecting", &fakeResource{name: "r", state: "reconnecting", err: errors.New("down")}, StatusDegraded, true},
		{"failed", &fakeResource{name: "r", state: "failed", failed: true, err: errors.New("gave up")}, StatusUnhealthy, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := NewResourceChecker(tc.resource).Check(context.Background())
			assert.Equal(t, "r", result.Name)
			assert.Equal(t, tc.status, result.Status)
			assert.Equal(t, tc.resource.state, result.Details["state"])
			assert.Equal(t, tc.hasError, result.Error != "")
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("aggregates worst status", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(NewResourceChecker(&fakeResource{name: "a", state: "connected", connected: true}))
		reg.Register(NewResourceChecker(&fakeResource{name: "b", state: "reconnecting"}))

		overall := reg.Check(context.Background())
		assert.Equal(t, StatusDegraded, overall.Status)
		assert.Len(t, overall.Checks, 2)

		reg.Unregister("b")
		assert.Equal(t, StatusHealthy, reg.Check(context.Background()).Status)
	})

	t.Run("timed out checks are unhealthy", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(NewComponentChecker("slow", func(ctx context.Context) (Status, string, map[string]interface{}, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return StatusHealthy, "late", nil, nil
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		overall := reg.Check(ctx)
		assert.Equal(t, StatusUnhealthy, overall.Status)
		assert.Equal(t, "Check timed out", overall.Checks["slow"].Message)
	})

	t.Run("component checker passes through", func(t *testing.T) {
		checker := NewComponentChecker("c", func(ctx context.Context) (Status, string, map[string]interface{}, error) {
			return StatusDegraded, "meh", map[string]interface{}{"k": 1}, errors.New("warn")
		})
		result := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Equal(t, "meh", result.Message)
		assert.Equal(t, 1, result.Details["k"])
		assert.Equal(t, "warn", result.Error)
	})
}
