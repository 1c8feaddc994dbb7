package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/clipcast-live/internal/archive"
	"github.com/rickgao/clipcast-live/internal/connection"
)

const namespace = "clipcast_live"

var states = []connection.ConnectionState{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
	connection.StateError,
}

// Collector implements connection.Metrics on top of a private registry.
type Collector struct {
	registry *prometheus.Registry

	state             *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	reconnects        prometheus.Counter
	reconnectDelay    prometheus.Histogram
	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	sendsDropped      *prometheus.CounterVec
	duplicates        *prometheus.CounterVec
	handlerPanics     *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
}

// NewCollector creates and registers all metrics. The registry also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Applied connection state transitions.",
		}, []string{"from", "to"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled.",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by event type.",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames by event type.",
		}, []string{"type"}),
		sendsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Outbound frames not handed to the transport.",
		}, []string{"type", "reason"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_frames_total",
			Help:      "Inbound frames dropped as already seen.",
		}, []string{"type"}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Recovered panics in event handlers.",
		}, []string{"type"}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections dropped for server silence.",
		}),
	}

	reg.MustRegister(
		c.state,
		c.transitions,
		c.reconnects,
		c.reconnectDelay,
		c.framesReceived,
		c.framesSent,
		c.sendsDropped,
		c.duplicates,
		c.handlerPanics,
		c.heartbeatTimeouts,
	)

	c.setState(connection.StateDisconnected)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RegisterArchive exposes archive writer counters read from stats on scrape.
func (c *Collector) RegisterArchive(stats func() archive.Metrics) {
	counter := func(name, help string, field func(archive.Metrics) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(field(stats())) })
	}

	c.registry.MustRegister(
		counter("inserts_total", "Admin events inserted.", func(m archive.Metrics) int64 { return m.Inserts }),
		counter("conflicts_total", "Admin events already archived.", func(m archive.Metrics) int64 { return m.Conflicts }),
		counter("errors_total", "Failed insert batches.", func(m archive.Metrics) int64 { return m.Errors }),
		counter("flushes_total", "Successful insert batches.", func(m archive.Metrics) int64 { return m.Flushes }),
		counter("dropped_total", "Admin events dropped before insert.", func(m archive.Metrics) int64 { return m.Dropped }),
	)
}

func (c *Collector) setState(s connection.ConnectionState) {
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		c.state.WithLabelValues(st.String()).Set(v)
	}
}

// StateChanged implements connection.Metrics.
func (c *Collector) StateChanged(from, to connection.ConnectionState) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.setState(to)
}

// ReconnectScheduled implements connection.Metrics.
func (c *Collector) ReconnectScheduled(attempt int, delay time.Duration) {
	c.reconnects.Inc()
	c.reconnectDelay.Observe(delay.Seconds())
}

// FrameReceived implements connection.Metrics.
func (c *Collector) FrameReceived(t connection.EventType) {
	c.framesReceived.WithLabelValues(string(t)).Inc()
}

// FrameSent implements connection.Metrics.
func (c *Collector) FrameSent(t connection.EventType) {
	c.framesSent.WithLabelValues(label(t)).Inc()
}

// SendDropped implements connection.Metrics.
func (c *Collector) SendDropped(t connection.EventType, reason string) {
	c.sendsDropped.WithLabelValues(label(t), reason).Inc()
}

// DuplicateDropped implements connection.Metrics.
func (c *Collector) DuplicateDropped(t connection.EventType) {
	c.duplicates.WithLabelValues(string(t)).Inc()
}

// HandlerPanicked implements connection.Metrics.
func (c *Collector) HandlerPanicked(t connection.EventType) {
	c.handlerPanics.WithLabelValues(string(t)).Inc()
}

// HeartbeatTimedOut implements connection.Metrics.
func (c *Collector) HeartbeatTimedOut() {
	c.heartbeatTimeouts.Inc()
}

// label keeps caller-chosen outbound tags from growing label cardinality.
func label(t connection.EventType) string {
	if t.Known() {
		return string(t)
	}
	return "other"
}

var _ connection.Metrics = (*Collector)(nil)
