// Package metrics implements Collector, a small facade over a Prometheus
// registry (SPEC_FULL.md §4.17). It exposes the handful of increment/observe
// methods the rest of the system needs rather than handing out raw
// prometheus types, following the teacher's internal/observability package.
// A Collector's contract resets on process restart, same as every other
// process-global in this system (§5).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps a dedicated prometheus.Registry. Using a private registry
// rather than the global DefaultRegisterer keeps repeated New calls (tests,
// multiple server instances in one process) from colliding on metric names.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal     prometheus.Counter
	turnDuration   prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	costTotal      *prometheus.CounterVec
	rateLimited    prometheus.Counter
	webhookDeliver *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates a Collector and registers every metric against its own
// registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,

		turnsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flux_turns_total",
			Help: "Total number of conversation turns run by the engine.",
		}),

		turnDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "flux_turn_duration_seconds",
			Help:    "Duration of a full conversation turn, including tool rounds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		toolCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flux_tool_calls_total",
			Help: "Total number of tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),

		costTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flux_llm_cost_usd_total",
			Help: "Estimated LLM cost in USD by model.",
		}, []string{"model"}),

		rateLimited: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flux_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}),

		webhookDeliver: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flux_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by event and status.",
		}, []string{"event", "status"}),

		httpRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flux_http_requests_total",
			Help: "Total number of HTTP requests by route and status code.",
		}, []string{"route", "status"}),

		httpDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flux_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route"}),
	}
	return c
}

// IncTurn records one completed conversation turn.
func (c *Collector) IncTurn() {
	c.turnsTotal.Inc()
}

// ObserveTurnDuration records how long a turn took, in seconds.
func (c *Collector) ObserveTurnDuration(seconds float64) {
	c.turnDuration.Observe(seconds)
}

// IncToolCall records one tool invocation. outcome is typically
// "success"/"error"/"timeout".
func (c *Collector) IncToolCall(name, outcome string) {
	c.toolCalls.WithLabelValues(name, outcome).Inc()
}

// AddCost adds usd to the running cost total for model.
func (c *Collector) AddCost(model string, usd float64) {
	c.costTotal.WithLabelValues(model).Add(usd)
}

// IncRateLimited records one rate-limited request.
func (c *Collector) IncRateLimited() {
	c.rateLimited.Inc()
}

// IncWebhookDelivery records one webhook delivery attempt for event with the
// given outcome status ("delivered"/"failed"/"deactivated").
func (c *Collector) IncWebhookDelivery(event, status string) {
	c.webhookDeliver.WithLabelValues(event, status).Inc()
}

// RecordHTTPRequest records one HTTP request's route, status code, and
// latency.
func (c *Collector) RecordHTTPRequest(route, status string, seconds float64) {
	c.httpRequests.WithLabelValues(route, status).Inc()
	c.httpDuration.WithLabelValues(route).Observe(seconds)
}

// Handler returns the /metrics HTTP handler for this Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
