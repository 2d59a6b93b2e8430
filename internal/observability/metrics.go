package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	CaptureAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_attempts_total",
			Help: "Capture provider calls by outcome kind",
		}, []string{"outcome"},
	)
	CaptureResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_results_total",
			Help: "Per-brand capture workflow results",
		}, []string{"result"},
	)
	PersistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persist_failures_total",
			Help: "Writes that failed after all storage retries",
		}, []string{"op"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_total",
			Help: "Query cache lookups by result",
		}, []string{"result"},
	)
	DroppedPopups = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "popup_items_dropped_total",
		Help: "Popup entries rejected by validation",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight,
		CaptureAttempts, CaptureResults, PersistFailures, CacheLookups, DroppedPopups)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *rec) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
