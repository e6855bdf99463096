// Package prom exports observability.ProxyObserver events to
// Prometheus as a registry and a scrape handler a caller mounts on its
// own mux.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vbe0201/wizproxy/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry, meant
// to be mounted at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports proxy metrics to Prometheus.
type Observer struct {
	shardGauge     prometheus.Gauge
	sessionGauge   prometheus.Gauge
	handshakeTotal *prometheus.CounterVec
	closeTotal     *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
}

// NewObserver registers the proxy's metrics on reg.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		shardGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizproxy_shards",
			Help: "Currently running shards.",
		}),
		sessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizproxy_sessions",
			Help: "Currently active client sessions across all shards.",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizproxy_handshake_total",
			Help: "Handshake interception outcomes by stage and result.",
		}, []string{"stage", "result"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizproxy_tunnel_close_total",
			Help: "Tunnel direction close reasons.",
		}, []string{"reason"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizproxy_bytes_total",
			Help: "Bytes forwarded between client and server, by direction.",
		}, []string{"direction"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizproxy_frames_dropped_total",
			Help: "Frames a plugin listener vetoed, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		o.shardGauge,
		o.sessionGauge,
		o.handshakeTotal,
		o.closeTotal,
		o.bytesTotal,
		o.droppedTotal,
	)
	return o
}

func (o *Observer) ShardCount(n int) { o.shardGauge.Set(float64(n)) }

func (o *Observer) SessionCount(n int64) { o.sessionGauge.Set(float64(n)) }

func (o *Observer) Handshake(stage observability.HandshakeStage, result observability.HandshakeResult) {
	o.handshakeTotal.WithLabelValues(string(stage), string(result)).Inc()
}

func (o *Observer) TunnelClosed(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) BytesTransferred(dir observability.TrafficDirection, n int64) {
	o.bytesTotal.WithLabelValues(string(dir)).Add(float64(n))
}

func (o *Observer) FrameDropped(dir observability.TrafficDirection) {
	o.droppedTotal.WithLabelValues(string(dir)).Inc()
}
