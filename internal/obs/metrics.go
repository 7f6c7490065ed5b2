// Package obs holds the Prometheus collectors for the gateway transport.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedGateways = promauto.NewGauge(prometheus.GaugeOpts{Name: "gatelink_connected_gateways", Help: "Currently registered gateway connections"})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gatelink_frames_total", Help: "Inbound frames by type"}, []string{"type"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gatelink_auth_failures_total", Help: "Rejected AUTH attempts by code"}, []string{"code"})

	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gatelink_evictions_total", Help: "Forced connection closes by reason"}, []string{"reason"})

	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gatelink_proxy_requests_total", Help: "Proxied internal API calls by status class"}, []string{"status_class"})

	ProxyDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "gatelink_proxy_duration_seconds", Help: "Proxy bridge round trip seconds", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)})

	DispatchDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gatelink_dispatch_dropped_total", Help: "Unicast/broadcast sends dropped because no open connection"}, []string{"op"})
)

// StatusClass buckets an HTTP status into 2xx/3xx/4xx/5xx for metrics labels.
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
