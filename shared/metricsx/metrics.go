package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Provider API calls by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	providerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Provider API call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	providerRateWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_rate_limit_waits_total",
			Help: "Provider calls delayed by the local rate limiter.",
		},
	)
	syncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Sync pass record outcomes by pass and result.",
		},
		[]string{"pass", "result"},
	)
	geofenceTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofence_triggers_total",
			Help: "Geofence monitor triggers by direction.",
		},
		[]string{"direction"},
	)
	droppedTimestamps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dropped_timestamps_total",
			Help: "Records dropped because the provider timestamp was unparseable.",
		},
	)
	narrativeFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "narrative_fallbacks_total",
			Help: "Driver score summaries that fell back to the template.",
		},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		providerCalls, providerCallLatency, providerRateWaits,
		syncRecords, geofenceTriggers, droppedTimestamps,
		narrativeFallbacks, influxWriteFailures, asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncProviderCall(action string, outcome string) {
	providerCalls.WithLabelValues(action, outcome).Inc()
}

func ObserveProviderCallLatency(action string, d time.Duration) {
	providerCallLatency.WithLabelValues(action).Observe(d.Seconds())
}

func IncProviderRateWait() {
	providerRateWaits.Inc()
}

func IncSyncRecord(pass string, result string) {
	syncRecords.WithLabelValues(pass, result).Inc()
}

func AddSyncRecords(pass string, result string, n int) {
	if n <= 0 {
		return
	}
	syncRecords.WithLabelValues(pass, result).Add(float64(n))
}

func IncGeofenceTrigger(direction string) {
	geofenceTriggers.WithLabelValues(direction).Inc()
}

func IncDroppedTimestamp() {
	droppedTimestamps.Inc()
}

func IncNarrativeFallback() {
	narrativeFallbacks.Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
