package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarm_engine"

// Label values for result/path dimensions.
const (
	ResultSuccess      = "success"
	ResultFailure      = "failure"
	ResultDelivered    = "delivered"
	ResultNotConnected = "not_connected"
	ResultInvalid      = "invalid"
	ResultRetried      = "retried"
	ResultDeadLettered = "dead_lettered"
	ResultRejected     = "rejected"
	ResultRequeued     = "requeued"

	PathBroker   = "broker"
	PathDirect   = "direct"
	PathFallback = "fallback"
)

// Metrics stores Prometheus collectors used by the delivery pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	alarmsPublishedTotal   *prometheus.CounterVec
	alarmPublishDuration   *prometheus.HistogramVec
	alarmsConsumedTotal    *prometheus.CounterVec
	consumerInflight       *prometheus.GaugeVec
	alarmRetriesTotal      *prometheus.CounterVec
	alarmsPushedTotal      *prometheus.CounterVec
	alarmDeliveriesTotal   *prometheus.CounterVec
	deadLettersArchivedTot *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		alarmsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarms_published_total",
				Help:      "Total number of broker publish attempts by category and result.",
			},
			[]string{"category", "result"},
		),
		alarmPublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "alarm_publish_duration_seconds",
				Help:      "Broker publish latency in seconds, including confirmation.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"category"},
		),
		alarmsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarms_consumed_total",
				Help:      "Total number of consumed broker messages by queue and result.",
			},
			[]string{"queue", "result"},
		),
		consumerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consumer_inflight",
				Help:      "Current number of messages being processed grouped by queue.",
			},
			[]string{"queue"},
		),
		alarmRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarm_retries_total",
				Help:      "Total number of retry envelopes republished by category.",
			},
			[]string{"category"},
		),
		alarmsPushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarms_pushed_total",
				Help:      "Total number of direct push attempts by category and result.",
			},
			[]string{"category", "result"},
		),
		alarmDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarm_deliveries_total",
				Help:      "Total number of deliver calls by the path that handled them.",
			},
			[]string{"path"},
		),
		deadLettersArchivedTot: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_archived_total",
				Help:      "Total number of dead-lettered messages stored by source queue.",
			},
			[]string{"queue"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.alarmsPublishedTotal,
		m.alarmPublishDuration,
		m.alarmsConsumedTotal,
		m.consumerInflight,
		m.alarmRetriesTotal,
		m.alarmsPushedTotal,
		m.alarmDeliveriesTotal,
		m.deadLettersArchivedTot,
	)

	return m
}

// RegisterActiveConnections exposes the live connection count as a gauge.
// It must be called at most once per Metrics.
func (m *Metrics) RegisterActiveConnections(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Current number of registered push connections.",
		},
		func() float64 { return float64(count()) },
	))
}

// Gatherer exposes the private registry, e.g. for testutil.GatherAndCompare.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Scrapes and long-lived streams would skew request metrics.
		if path == "/metrics" || path == "/v1/alarms/stream" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObservePublish(category string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	label := normalizeLabel(category)
	m.alarmsPublishedTotal.WithLabelValues(label, result).Inc()
	m.alarmPublishDuration.WithLabelValues(label).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncConsumed(queue string, result string) {
	if m == nil {
		return
	}
	m.alarmsConsumedTotal.WithLabelValues(normalizeLabel(queue), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncConsumerInFlight(queue string) {
	if m == nil {
		return
	}
	m.consumerInflight.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) DecConsumerInFlight(queue string) {
	if m == nil {
		return
	}
	m.consumerInflight.WithLabelValues(normalizeLabel(queue)).Dec()
}

func (m *Metrics) IncRetryPublished(category string) {
	if m == nil {
		return
	}
	m.alarmRetriesTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncPushed(category string, result string) {
	if m == nil {
		return
	}
	m.alarmsPushedTotal.WithLabelValues(normalizeLabel(category), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncDelivery(path string) {
	if m == nil {
		return
	}
	m.alarmDeliveriesTotal.WithLabelValues(normalizeLabel(path)).Inc()
}

func (m *Metrics) IncDeadLetterArchived(queue string) {
	if m == nil {
		return
	}
	m.deadLettersArchivedTot.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(d time.Duration) float64 {
	seconds := d.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
