package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type MetricsHandler struct {
	metrics *Metrics
	logger  *zap.Logger
}

func NewMetricsHandler(metrics *Metrics, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		logger:  logger,
	}
}

func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.HandlerFor(h.metrics.gatherer, promhttp.HandlerOpts{})
}

// CollectSystemMetrics samples runtime stats every interval until ctx is done.
func (h *MetricsHandler) CollectSystemMetrics(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			h.metrics.System.MemoryUsage.Set(float64(mem.Alloc))
			h.metrics.System.GoroutineCount.Set(float64(runtime.NumGoroutine()))
			h.metrics.System.GCCount.Set(float64(mem.NumGC))
		}
	}
}

func (h *MetricsHandler) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	h.metrics.Http.RequestsTotal.WithLabelValues(method, path).Inc()
	h.metrics.Http.ResponseStatusCode.WithLabelValues(http.StatusText(statusCode)).Inc()
	h.metrics.Http.RequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// Instrument records plain HTTP routes. It must not wrap the WebSocket
// endpoint since the recorder hides http.Hijacker.
func (h *MetricsHandler) Instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (m *RegistryMetrics) Observe(stats models.AggregateStats) {
	m.Connections.Set(float64(stats.Connections))
	m.Authenticated.Set(float64(stats.Authenticated))
	m.Reconnecting.Set(float64(stats.Reconnecting))
	m.Users.Set(float64(stats.Users))
	m.Channels.Set(float64(stats.Channels))
	m.GameChannels.Set(float64(stats.GameChannels))
	m.Subscriptions.Set(float64(stats.Subscriptions))
}
