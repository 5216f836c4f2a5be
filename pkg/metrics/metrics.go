package metrics

import (
	"context"
	"net/http"

	"github.com/example/marketplace/pkg/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry   *prometheus.Registry
	Mutations  *prometheus.CounterVec
	MutationMS *prometheus.HistogramVec
	Requests   *prometheus.CounterVec
	RequestMS  *prometheus.HistogramVec
}

func New() *Metrics {
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "orders",
		Name:      "mutations_total",
		Help:      "Order mutation attempts by action and outcome.",
	}, []string{"action", "outcome"})
	mutationMS := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "orders",
		Name:      "reconcile_duration_ms",
		Help:      "Time from optimistic apply to commit or rollback in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"action", "outcome"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "gateway",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	requestMS := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "gateway",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(mutations, mutationMS, requests, requestMS)
	return &Metrics{
		registry:   registry,
		Mutations:  mutations,
		MutationMS: mutationMS,
		Requests:   requests,
		RequestMS:  requestMS,
	}
}

// Observe records the outcome of each order mutation.
func (m *Metrics) Observe(_ context.Context, ev reconcile.Event) {
	m.Mutations.WithLabelValues(ev.Action, string(ev.Kind)).Inc()
	if ev.Kind == reconcile.EventCommitted || ev.Kind == reconcile.EventRolledBack {
		m.MutationMS.WithLabelValues(ev.Action, string(ev.Kind)).Observe(float64(ev.Duration.Milliseconds()))
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
