package observability

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterNamespace = "github.com/shophub/marketplace/internal/platform/observability"

type httpMetrics struct {
	requests        metric.Int64Counter
	requestsEnabled bool
	latency         metric.Float64Histogram
	latencyEnabled  bool
}

// MetricsMiddleware records request counts and latencies using the global
// OpenTelemetry meter provider. Registration failures disable the affected
// instrument instead of failing the middleware.
func MetricsMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.GetMeterProvider().Meter(meterNamespace)

	requests, requestsErr := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests handled, by route and status."),
	)
	if requestsErr != nil {
		logger.Warn("observability: unable to register request counter", zap.Error(requestsErr))
	}
	latency, latencyErr := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Request latency in milliseconds."),
		metric.WithUnit("ms"),
	)
	if latencyErr != nil {
		logger.Warn("observability: unable to register latency histogram", zap.Error(latencyErr))
	}

	metrics := &httpMetrics{
		requests:        requests,
		requestsEnabled: requestsErr == nil,
		latency:         latency,
		latencyEnabled:  latencyErr == nil,
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := newResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)
			metrics.observe(r, recorder.Status(), time.Since(start))
		})
	}
}

func (m *httpMetrics) observe(r *http.Request, status int, elapsed time.Duration) {
	if !m.requestsEnabled && !m.latencyEnabled {
		return
	}
	ctx := r.Context()
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("http.route", SanitizeRoute(routePattern(r))),
		attribute.String("http.response.status_code", strconv.Itoa(status)),
	)
	if m.requestsEnabled {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.latencyEnabled {
		m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}
