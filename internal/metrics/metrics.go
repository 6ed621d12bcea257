package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

const namespace = "liblibstudio"

type Collector struct {
	registry *prometheus.Registry

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	statusQueriesTotal *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
}

func NewCollector(*do.Injector) (*Collector, error) {
	return New(prometheus.NewRegistry()), nil
}

func New(registry *prometheus.Registry) *Collector {
	factory := promauto.With(registry)
	return &Collector{
		registry: registry,
		generationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation requests by layout and outcome.",
		}, []string{"mode", "outcome"}),
		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time from submission to materialized image.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
		}, []string{"mode"}),
		statusQueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_queries_total",
			Help:      "Job status queries by observed outcome.",
		}, []string{"outcome"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
	}
}

func (c *Collector) RecordGeneration(mode, outcome string, elapsed time.Duration) {
	c.generationsTotal.WithLabelValues(mode, outcome).Inc()
	if outcome == "ok" {
		c.generationDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	}
}

func (c *Collector) RecordStatusQuery(outcome string) {
	c.statusQueriesTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordHTTPRequest(method, route string, status int) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
