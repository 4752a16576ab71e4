package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the share server's prometheus collectors. Each server gets
// its own registry so embedding several servers in one process (or test
// binary) never trips duplicate registration.
type metrics struct {
	registry *prometheus.Registry

	eventsPublished prometheus.Counter
	sseClients      prometheus.Gauge
	loginFailures   prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tfdeck_events_published_total",
			Help: "Snapshots published to the share stream.",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tfdeck_sse_clients",
			Help: "Currently connected SSE subscribers.",
		}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tfdeck_login_failures_total",
			Help: "Login attempts rejected for a wrong password.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tfdeck_http_requests_total",
			Help: "HTTP requests served, by route pattern and status code.",
		}, []string{"path", "code"}),
	}
	m.registry.MustRegister(m.eventsPublished, m.sseClients, m.loginFailures, m.httpRequests)
	return m
}
