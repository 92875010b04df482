// Package metrics exposes the chat server's counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements server.Metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	connected   prometheus.Gauge
	members     prometheus.Gauge
	frames      *prometheus.CounterVec
	dropped     prometheus.Counter
	disconnects *prometheus.CounterVec
}

// New creates a collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connected_endpoints",
			Help: "Number of currently connected endpoints",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_joined_members",
			Help: "Number of endpoints that have joined the chat",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_received_total",
			Help: "Chat objects received from clients by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_dropped_total",
			Help: "Frames not queued because an outbound queue was full",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_disconnects_total",
			Help: "Endpoints dropped by reason",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(c.connected, c.members, c.frames, c.dropped, c.disconnects)
	return c
}

func (c *Collector) Connected(n int)           { c.connected.Set(float64(n)) }
func (c *Collector) Members(n int)             { c.members.Set(float64(n)) }
func (c *Collector) FrameReceived(kind string) { c.frames.WithLabelValues(kind).Inc() }
func (c *Collector) FrameDropped()             { c.dropped.Inc() }
func (c *Collector) Disconnected(reason string) {
	c.disconnects.WithLabelValues(reason).Inc()
}

// Registry returns the registry holding the chat metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
