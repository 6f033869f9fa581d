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

// Metrics stores Prometheus collectors used by the API, debouncer, and
// flush flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	eventsRegisteredTotal *prometheus.CounterVec
	batchesOpenedTotal    *prometheus.CounterVec
	batchesFlushedTotal   *prometheus.CounterVec
	flushErrorsTotal      *prometheus.CounterVec
	flushDuration         *prometheus.HistogramVec
	emailsSentTotal       *prometheus.CounterVec
	emailsFailedTotal     *prometheus.CounterVec
	emailsSkippedTotal    *prometheus.CounterVec
	emailSendDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "debounce_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		eventsRegisteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "events_registered_total",
				Help:      "Total number of events accepted into a pending batch.",
			},
			[]string{"stream"},
		),
		batchesOpenedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "batches_opened_total",
				Help:      "Total number of fresh pending batches opened.",
			},
			[]string{"stream"},
		),
		batchesFlushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "batches_flushed_total",
				Help:      "Total number of claimed batches driven through delivery.",
			},
			[]string{"stream"},
		),
		flushErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "flush_errors_total",
				Help:      "Total number of batch flushes that failed grouped by stage.",
			},
			[]string{"stream", "stage"},
		),
		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "debounce_engine",
				Name:      "flush_duration_seconds",
				Help:      "Batch flush duration in seconds grouped by stream.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"stream"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "emails_sent_total",
				Help:      "Total number of emails accepted by the mail gateway.",
			},
			[]string{"stream"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "emails_failed_total",
				Help:      "Total number of emails that ended in failed state.",
			},
			[]string{"stream", "reason"},
		),
		emailsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "debounce_engine",
				Name:      "emails_skipped_total",
				Help:      "Total number of emails skipped because their idempotency token was already sent.",
			},
			[]string{"stream"},
		),
		emailSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "debounce_engine",
				Name:      "email_send_duration_seconds",
				Help:      "Mail gateway send duration in seconds grouped by stream.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"stream"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.eventsRegisteredTotal,
		m.batchesOpenedTotal,
		m.batchesFlushedTotal,
		m.flushErrorsTotal,
		m.flushDuration,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailsSkippedTotal,
		m.emailSendDuration,
	)

	return m
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEventRegistered(streamName string) {
	if m == nil {
		return
	}
	m.eventsRegisteredTotal.WithLabelValues(normalizeStream(streamName)).Inc()
}

func (m *Metrics) IncBatchOpened(streamName string) {
	if m == nil {
		return
	}
	m.batchesOpenedTotal.WithLabelValues(normalizeStream(streamName)).Inc()
}

func (m *Metrics) IncBatchFlushed(streamName string) {
	if m == nil {
		return
	}
	m.batchesFlushedTotal.WithLabelValues(normalizeStream(streamName)).Inc()
}

func (m *Metrics) IncFlushError(streamName string, stage string) {
	if m == nil {
		return
	}
	stageLabel := strings.TrimSpace(strings.ToLower(stage))
	if stageLabel == "" {
		stageLabel = "unknown"
	}
	m.flushErrorsTotal.WithLabelValues(normalizeStream(streamName), stageLabel).Inc()
}

func (m *Metrics) ObserveFlushDuration(streamName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.WithLabelValues(normalizeStream(streamName)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncEmailSent(streamName string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeStream(streamName)).Inc()
}

func (m *Metrics) IncEmailFailed(streamName string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.emailsFailedTotal.WithLabelValues(normalizeStream(streamName), reasonLabel).Inc()
}

func (m *Metrics) IncEmailSkipped(streamName string) {
	if m == nil {
		return
	}
	m.emailsSkippedTotal.WithLabelValues(normalizeStream(streamName)).Inc()
}

func (m *Metrics) ObserveSendDuration(streamName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.emailSendDuration.WithLabelValues(normalizeStream(streamName)).Observe(nonNegativeSeconds(duration))
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

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeStream(streamName string) string {
	normalized := strings.TrimSpace(streamName)
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
