// Package rstats tracks connection/queue/frame counters and exposes them via
// Prometheus, the teacher's own metrics backend (see stats/common_statsd.go,
// whose StatsD path this package replaces with the Prometheus client the
// teacher's go.mod already carries for that same concern).
package rstats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric this relay process exports. The zero value is
// not usable; construct with New.
type Registry struct {
	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	Connections     *prometheus.CounterVec
	ConnectionsLost *prometheus.CounterVec
	TranslateErrors *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	WatermarkHigh   *prometheus.CounterVec
	WatermarkLow    *prometheus.CounterVec
}

// New registers the relay's metrics on reg and returns the Registry handle.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via the default /metrics handler.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_frames_sent_total",
			Help: "STOMP frames written to the wire, by command.",
		}, []string{"command"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_frames_received_total",
			Help: "STOMP frames read from the wire, by command.",
		}, []string{"command"}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_connections_total",
			Help: "Connections established, by role (client/server).",
		}, []string{"role"}),
		ConnectionsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_connections_lost_total",
			Help: "Connections torn down, by role and reason.",
		}, []string{"role", "reason"}),
		TranslateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_translate_errors_total",
			Help: "Message translation failures, by direction and error kind.",
		}, []string{"direction", "kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stomp_relay_queue_depth",
			Help: "Current length of a send/recv queue.",
		}, []string{"queue"}),
		WatermarkHigh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_watermark_high_total",
			Help: "High-watermark crossings, by queue.",
		}, []string{"queue"}),
		WatermarkLow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_relay_watermark_low_total",
			Help: "Low-watermark crossings, by queue.",
		}, []string{"queue"}),
	}
	reg.MustRegister(
		r.FramesSent, r.FramesReceived,
		r.Connections, r.ConnectionsLost,
		r.TranslateErrors, r.QueueDepth,
		r.WatermarkHigh, r.WatermarkLow,
	)
	return r
}

// WatchQueue wires name's watermark crossings into r, via wqueue's
// edge-triggered OnHigh/OnLow callbacks. q is any type exposing OnHigh/OnLow
// (avoids an import cycle on wqueue's generic Queue[T]).
func (r *Registry) WatchQueue(name string, q interface {
	OnHigh(func())
	OnLow(func())
}) {
	q.OnHigh(func() { r.WatermarkHigh.WithLabelValues(name).Inc() })
	q.OnLow(func() { r.WatermarkLow.WithLabelValues(name).Inc() })
}

// SetQueueDepth records the current length of the named queue, meant to be
// called periodically (e.g. from a ticker in cmd/relay) rather than on every
// Put/Get, to keep the hot path free of metrics overhead.
func (r *Registry) SetQueueDepth(name string, depth int) {
	r.QueueDepth.WithLabelValues(name).Set(float64(depth))
}
