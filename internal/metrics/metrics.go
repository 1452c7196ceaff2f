// Package metrics holds the Prometheus collectors of the service.
//
// A nil *Metrics is valid and records nothing, so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schemawatch"

// Metrics groups the collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	polls             prometheus.Counter
	pollErrors        prometheus.Counter
	pollDuration      prometheus.Histogram
	calls             prometheus.Gauge
	callFailures      prometheus.Counter
	events            prometheus.Counter
	registeredStreams prometheus.Gauge
	pendingDerived    prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Multicall polls started.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Multicall polls that failed.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a complete multicall poll.",
			Buckets:   prometheus.DefBuckets,
		}),
		calls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls",
			Help:      "Call descriptors submitted to the executor.",
		}),
		callFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_failures_total",
			Help:      "Individual calls that reverted or could not be decoded.",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Result events emitted.",
		}),
		registeredStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_streams",
			Help:      "Value streams in the current registry snapshot.",
		}),
		pendingDerived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_derived",
			Help:      "Derived schemas waiting for a dependency.",
		}),
	}

	m.registry.MustRegister(
		m.polls,
		m.pollErrors,
		m.pollDuration,
		m.calls,
		m.callFailures,
		m.events,
		m.registeredStreams,
		m.pendingDerived,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll records one finished poll
func (m *Metrics) ObservePoll(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.polls.Inc()
	m.pollDuration.Observe(d.Seconds())
	if err != nil {
		m.pollErrors.Inc()
	}
}

func (m *Metrics) SetCalls(n int) {
	if m == nil {
		return
	}
	m.calls.Set(float64(n))
}

func (m *Metrics) CallFailed() {
	if m == nil {
		return
	}
	m.callFailures.Inc()
}

func (m *Metrics) EventEmitted() {
	if m == nil {
		return
	}
	m.events.Inc()
}

func (m *Metrics) SetRegisteredStreams(n int) {
	if m == nil {
		return
	}
	m.registeredStreams.Set(float64(n))
}

func (m *Metrics) SetPendingDerived(n int) {
	if m == nil {
		return
	}
	m.pendingDerived.Set(float64(n))
}
