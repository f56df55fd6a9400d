// Package relaymetrics exposes Prometheus counters and gauges for the
// relay's packet and connection data path.
package relaymetrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "tfhmitm"
	subsystem = "relay"
)

// Label names for relay metrics.
const (
	labelSide = "side" // "a" or "b"
	labelTag  = "tag"  // input/output direction tag
)

// Collector holds all relay Prometheus metrics.
type Collector struct {
	// PacketsRead counts datagrams successfully read off a TUN side.
	PacketsRead *prometheus.CounterVec

	// PacketsWritten counts datagrams successfully written to a TUN side.
	PacketsWritten *prometheus.CounterVec

	// PacketsDropped counts datagrams dropped because a channel was full,
	// per the discard-and-log backpressure policy.
	PacketsDropped *prometheus.CounterVec

	// MessagesAssembled counts TFH stream messages completed by the
	// reassembler, across both directions.
	MessagesAssembled prometheus.Counter

	// ConnectionsActive tracks the number of connections currently
	// tracked by the connection manager.
	ConnectionsActive prometheus.Gauge

	// ConnectionsEvicted counts idle-timeout evictions.
	ConnectionsEvicted prometheus.Counter

	// RewritesApplied counts successful status-reply rewrites.
	RewritesApplied prometheus.Counter

	// RewritesFailed counts rewrite attempts abandoned due to malformed
	// input (the packet is still forwarded unmodified).
	RewritesFailed prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsRead,
		c.PacketsWritten,
		c.PacketsDropped,
		c.MessagesAssembled,
		c.ConnectionsActive,
		c.ConnectionsEvicted,
		c.RewritesApplied,
		c.RewritesFailed,
	)

	return c
}

func newMetrics() *Collector {
	sideLabels := []string{labelSide}

	return &Collector{
		PacketsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_read_total",
			Help:      "Total packets read from a TUN side.",
		}, sideLabels),

		PacketsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_written_total",
			Help:      "Total packets written to a TUN side.",
		}, sideLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped due to a full internal channel.",
		}, []string{labelTag}),

		MessagesAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_assembled_total",
			Help:      "Total TFH stream messages completed by the reassembler.",
		}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_active",
			Help:      "Number of connections currently tracked by the connection manager.",
		}),

		ConnectionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_evicted_total",
			Help:      "Total connections evicted for idleness.",
		}),

		RewritesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rewrites_applied_total",
			Help:      "Total status-reply rewrites successfully applied.",
		}),

		RewritesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rewrites_failed_total",
			Help:      "Total status-reply rewrite attempts abandoned due to malformed input.",
		}),
	}
}

// IncRead increments the read counter for side ("a" or "b").
func (c *Collector) IncRead(side string) {
	if c == nil {
		return
	}
	c.PacketsRead.WithLabelValues(side).Inc()
}

// IncWritten increments the written counter for side ("a" or "b").
func (c *Collector) IncWritten(side string) {
	if c == nil {
		return
	}
	c.PacketsWritten.WithLabelValues(side).Inc()
}

// IncDropped increments the dropped counter for the given channel tag.
func (c *Collector) IncDropped(tag string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(tag).Inc()
}

// IncMessagesAssembled increments the assembled-message counter.
func (c *Collector) IncMessagesAssembled() {
	if c == nil {
		return
	}
	c.MessagesAssembled.Inc()
}

// SetConnectionsActive sets the active-connections gauge.
func (c *Collector) SetConnectionsActive(n int) {
	if c == nil {
		return
	}
	c.ConnectionsActive.Set(float64(n))
}

// IncConnectionsEvicted increments the evicted-connections counter.
func (c *Collector) IncConnectionsEvicted() {
	if c == nil {
		return
	}
	c.ConnectionsEvicted.Inc()
}

// IncRewritesApplied increments the successful-rewrite counter.
func (c *Collector) IncRewritesApplied() {
	if c == nil {
		return
	}
	c.RewritesApplied.Inc()
}

// IncRewritesFailed increments the failed-rewrite counter.
func (c *Collector) IncRewritesFailed() {
	if c == nil {
		return
	}
	c.RewritesFailed.Inc()
}
