package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink records lifecycle events as prometheus metrics
type MetricsSink struct {
	events    *prometheus.CounterVec
	connected *prometheus.GaugeVec
}

// NewMetricsSink creates the collectors and registers them with reg. A nil
// reg leaves the collectors unregistered.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jms",
			Name:      "resource_events_total",
			Help:      "Lifecycle events emitted by reconnectable resources.",
		}, []string{"resource", "kind"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jms",
			Name:      "resource_connected",
			Help:      "1 while the resource holds a live connection, 0 otherwise.",
		}, []string{"resource"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{s.events, s.connected} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// OnEvent implements Sink
func (s *MetricsSink) OnEvent(e Event) {
	s.events.WithLabelValues(e.Resource, e.Kind.String()).Inc()

	switch e.Kind {
	case EventConnected:
		s.connected.WithLabelValues(e.Resource).Set(1)
	case EventDisconnected, EventFailed:
		s.connected.WithLabelValues(e.Resource).Set(0)
	}
}

// Collectors returns the underlying collectors
func (s *MetricsSink) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.events, s.connected}
}
