// Package observability exposes the process's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions  prometheus.Gauge
	RoutedMessages  *prometheus.CounterVec
	RouteInterrupts prometheus.Counter
	RetryExhausted  prometheus.Counter
	TurnLatency     prometheus.Histogram
	ResolverLatency *prometheus.HistogramVec
	LLMErrors       prometheus.Counter
	IngressEvents   *prometheus.CounterVec
	IngressTimeouts prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crossbar_active_sessions",
			Help: "Live task instances keyed by session.",
		}),
		RoutedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbar_routed_messages_total",
			Help: "Messages routed, by resolved route.",
		}, []string{"route"}),
		RouteInterrupts: factory.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_route_interrupts_total",
			Help: "Task interrupts consumed by the router.",
		}),
		RetryExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_retry_exhausted_total",
			Help: "Routing attempts that ran out of re-route budget.",
		}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crossbar_turn_duration_seconds",
			Help:    "Wall time from router send to turn resolution.",
			Buckets: prometheus.DefBuckets,
		}),
		ResolverLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crossbar_resolver_stage_duration_seconds",
			Help:    "Entity resolver stage latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		LLMErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_llm_errors_total",
			Help: "Failed LLM completions.",
		}),
		IngressEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbar_ingress_events_total",
			Help: "Outbound ingress events, by kind.",
		}, []string{"type"}),
		IngressTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "crossbar_ingress_timeouts_total",
			Help: "Turns abandoned by the ingress idle timeout.",
		}),
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
