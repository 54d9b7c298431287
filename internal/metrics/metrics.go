// Package metrics exposes Prometheus collectors for the streaming core and
// the WebSocket transport. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tailexplorer"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	subscribers   *prometheus.GaugeVec
	bufferedLines *prometheus.GaugeVec
	sourceState   *prometheus.GaugeVec
	linesTotal    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	processStarts *prometheus.CounterVec
	processExits  *prometheus.CounterVec
	connections   prometheus.Gauge
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Subscribers currently attached to a source",
		}, []string{"source"}),
		bufferedLines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "buffered_lines",
			Help:      "Lines held in the source's recent-history buffer",
		}, []string{"source"}),
		sourceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "state",
			Help:      "1 for the state a source is currently in, 0 otherwise",
		}, []string{"source", "state"}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "lines_total",
			Help:      "Lines read from a source's process",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Per-subscriber message deliveries by outcome",
		}, []string{"source", "outcome"}),
		processStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Process launch attempts by result",
		}, []string{"source", "result"}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Process terminations by reason",
		}, []string{"source", "reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
	}

	m.registry.MustRegister(
		m.subscribers,
		m.bufferedLines,
		m.sourceState,
		m.linesTotal,
		m.deliveries,
		m.processStarts,
		m.processExits,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) SetSubscribers(source string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(source).Set(float64(n))
}

func (m *Metrics) SetBufferedLines(source string, n int) {
	if m == nil {
		return
	}
	m.bufferedLines.WithLabelValues(source).Set(float64(n))
}

// SetState marks state as the current one for source among all states.
func (m *Metrics) SetState(source, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sourceState.WithLabelValues(source, s).Set(v)
	}
}

func (m *Metrics) AddLines(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.linesTotal.WithLabelValues(source).Add(float64(n))
}

// RecordDelivery counts the per-subscriber outcomes of one broadcast.
func (m *Metrics) RecordDelivery(source string, sent, dropped, evicted int) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.deliveries.WithLabelValues(source, "delivered").Add(float64(sent))
	}
	if dropped > 0 {
		m.deliveries.WithLabelValues(source, "dropped").Add(float64(dropped))
	}
	if evicted > 0 {
		m.deliveries.WithLabelValues(source, "evicted").Add(float64(evicted))
	}
}

// ProcessStarted records a launch attempt; result is "ok" or "spawn_error".
func (m *Metrics) ProcessStarted(source, result string) {
	if m == nil {
		return
	}
	m.processStarts.WithLabelValues(source, result).Inc()
}

// ProcessExited records why a process went away: "ended" or "stopped".
func (m *Metrics) ProcessExited(source, reason string) {
	if m == nil {
		return
	}
	m.processExits.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
