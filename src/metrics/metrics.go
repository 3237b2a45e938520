// Package metrics exposes realtime channel counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channel implements channel.Observer on a private registry so several
// channels (and tests) never collide on global registration.
type Channel struct {
	registry *prometheus.Registry

	FramesReceived     prometheus.Counter
	MessagesDispatched prometheus.Counter
	DecodeFailures     prometheus.Counter
	HandlerPanics      prometheus.Counter
	ReconnectsTotal    prometheus.Counter
	ConnectionStatus   prometheus.Gauge
	PendingMessages    prometheus.Gauge
}

// New registers the channel metrics under the given namespace.
func New(namespace string) *Channel {
	reg := prometheus.NewRegistry()
	m := &Channel{
		registry: reg,
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Raw frames read from the push connection.",
		}),
		MessagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Messages delivered to handlers.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Frames dropped because they could not be decoded.",
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered from message handlers.",
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnects scheduled after abnormal closures.",
		}),
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		PendingMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Messages queued for dispatch.",
		}),
	}
	reg.MustRegister(
		m.FramesReceived,
		m.MessagesDispatched,
		m.DecodeFailures,
		m.HandlerPanics,
		m.ReconnectsTotal,
		m.ConnectionStatus,
		m.PendingMessages,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the channel metrics.
func (m *Channel) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Channel) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Channel) FrameReceived()      { m.FramesReceived.Inc() }
func (m *Channel) DecodeFailed()       { m.DecodeFailures.Inc() }
func (m *Channel) MessageDispatched()  { m.MessagesDispatched.Inc() }
func (m *Channel) HandlerPanicked()    { m.HandlerPanics.Inc() }
func (m *Channel) ReconnectScheduled() { m.ReconnectsTotal.Inc() }
func (m *Channel) QueueDepth(n int)    { m.PendingMessages.Set(float64(n)) }

func (m *Channel) StatusChanged(s types.ConnectionStatus) {
	m.ConnectionStatus.Set(s.Gauge())
}
