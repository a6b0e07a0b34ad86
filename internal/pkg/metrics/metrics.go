package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultIgnored = "ignored"
	ResultDenied  = "denied"
)

// Metrics holds all Prometheus collectors of the service
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec
	ConversionJobs     *prometheus.GaugeVec

	WebhookEventsTotal *prometheus.CounterVec
	TrialsConsumed     prometheus.Counter
}

// NewMetrics creates and registers all collectors on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelconvert_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelconvert_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelconvert_conversions_total",
				Help: "Total number of image conversions by output format and result",
			},
			[]string{"format", "result"},
		),
		ConversionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelconvert_conversion_duration_seconds",
				Help:    "Image conversion duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"format"},
		),
		ConversionJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pixelconvert_conversion_jobs",
				Help: "Conversion jobs by state",
			},
			[]string{"state"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelconvert_webhook_events_total",
				Help: "Stripe webhook events by type and result",
			},
			[]string{"type", "result"},
		),
		TrialsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pixelconvert_trials_consumed_total",
				Help: "Number of free trial conversions consumed",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ConversionsTotal,
		m.ConversionDuration,
		m.ConversionJobs,
		m.WebhookEventsTotal,
		m.TrialsConsumed,
	)

	return m
}

var defaultMetrics = newDefault()

func newDefault() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetrics(registry)
}

// Default returns the process wide metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// ObserveConversion records one finished conversion. All methods are safe on a nil receiver.
func (m *Metrics) ObserveConversion(format, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(format, result).Inc()
	if result == ResultSuccess {
		m.ConversionDuration.WithLabelValues(format).Observe(d.Seconds())
	}
}

func (m *Metrics) JobStateChanged(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.ConversionJobs.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.ConversionJobs.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) ObserveWebhook(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) TrialConsumed() {
	if m == nil {
		return
	}
	m.TrialsConsumed.Inc()
}

// Middleware records request count and latency per matched route
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		m.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
