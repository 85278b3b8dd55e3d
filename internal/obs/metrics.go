package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Settlement metrics
var (
	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postage_settlements_total",
			Help: "Settled fee-bearing actions by action and path.",
		},
		[]string{"action", "path"},
	)

	depositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postage_deposits_total",
			Help: "Escrow deposit transitions.",
		},
		[]string{"transition"},
	)

	operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postage_operation_errors_total",
			Help: "Failed engine operations by operation and error class.",
		},
		[]string{"op", "class"},
	)

	pendingDeposits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postage_pending_deposits",
		Help: "Deposits currently held in escrow.",
	})

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postage_events_dropped_total",
			Help: "Committed events a sink failed to accept.",
		},
		[]string{"sink"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service accepts traffic.",
	})
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			settlementsTotal, depositsTotal, operationErrors, pendingDeposits, eventsDropped, ready,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveSettlement(action, path string) {
	settlementsTotal.WithLabelValues(action, path).Inc()
}

func ObserveDeposit(transition string, n int) {
	if n > 0 {
		depositsTotal.WithLabelValues(transition).Add(float64(n))
	}
}

func ObserveOperationError(op, class string) {
	operationErrors.WithLabelValues(op, class).Inc()
}

func SetPendingDeposits(n int) {
	pendingDeposits.Set(float64(n))
}

func ObserveDroppedEvent(sink string) {
	eventsDropped.WithLabelValues(sink).Inc()
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in a request path so metric labels stay
// bounded: numeric ids become :id and hex addresses become :address.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		switch {
		case part == "":
		case isDigits(part):
			parts[i] = ":id"
		case len(part) == 42 && strings.HasPrefix(part, "0x"):
			parts[i] = ":address"
		}
	}
	return strings.Join(parts, "/")
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
