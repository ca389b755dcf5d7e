// Package metrics exposes Prometheus collectors for the collab service.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonhub",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lessonhub",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "path", "status"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lessonhub",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	}, []string{"service"})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lessonhub",
		Name:      "ws_active_connections",
		Help:      "Current number of live collaboration connections",
	})

	wsLessons = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lessonhub",
		Name:      "ws_active_lessons",
		Help:      "Current number of lessons with at least one connection",
	})

	wsMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonhub",
		Name:      "ws_messages_total",
		Help:      "Total number of inbound collaboration messages handled",
	}, []string{"type"})

	wsSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lessonhub",
		Name:      "ws_send_failures_total",
		Help:      "Total number of outbound sends that failed and dropped a session",
	})

	lessonWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonhub",
		Name:      "lesson_writes_total",
		Help:      "Total number of write-through lesson edits",
	}, []string{"result"})
)

func SetActiveSessions(connections, lessons int) {
	wsConnections.Set(float64(connections))
	wsLessons.Set(float64(lessons))
}

func CountMessage(msgType string) { wsMessages.WithLabelValues(msgType).Inc() }

func SendFailure() { wsSendFailures.Inc() }

func LessonWrite(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	lessonWrites.WithLabelValues(result).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack must be forwarded so the websocket upgrade works through this
// middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request counts, latencies and in-flight gauges, labeled
// by the chi route pattern to keep cardinality bounded.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpInFlight.WithLabelValues(service).Inc()
			defer httpInFlight.WithLabelValues(service).Dec()

			rec := &responseRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			httpRequests.WithLabelValues(service, r.Method, path, strconv.Itoa(status)).Inc()
			httpLatency.WithLabelValues(service, r.Method, path, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
		})
	}
}
