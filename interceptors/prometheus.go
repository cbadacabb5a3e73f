package interceptors

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a MetricsCollector backed by prometheus collectors
type PrometheusCollector struct {
	messages *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusCollector creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jms",
			Name:      "messages_processed_total",
			Help:      "Messages handed to listener handlers.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jms",
			Name:      "message_errors_total",
			Help:      "Handler failures by error type.",
		}, []string{"type", "error"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jms",
			Name:      "message_processing_seconds",
			Help:      "Time spent in listener handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.messages, c.errors, c.duration} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// IncrementMessageCount implements MetricsCollector
func (c *PrometheusCollector) IncrementMessageCount(messageType string) {
	c.messages.WithLabelValues(messageType).Inc()
}

// RecordProcessingTime implements MetricsCollector
func (c *PrometheusCollector) RecordProcessingTime(messageType string, duration time.Duration) {
	c.duration.WithLabelValues(messageType).Observe(duration.Seconds())
}

// IncrementErrorCount implements MetricsCollector
func (c *PrometheusCollector) IncrementErrorCount(messageType string, errorType string) {
	c.errors.WithLabelValues(messageType, errorType).Inc()
}
