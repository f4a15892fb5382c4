package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sdp_pipeline_instances",
			Help: "Number of pipeline instances by lifecycle state",
		},
		[]string{"state"},
	)

	ActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdp_activations_total",
			Help: "Activation requests by result (admitted or the denial reason)",
		},
		[]string{"result"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdp_dispatch_total",
			Help: "Calls to the workflow engine by operation and result",
		},
		[]string{"op", "result"},
	)

	TTLExpiries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sdp_ttl_expiries_total",
			Help: "Instances stopped because their TTL elapsed",
		},
	)

	ProvisionalReleases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sdp_provisional_releases_total",
			Help: "Stuck teardowns whose receptors and resources were released early",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sdp_sweep_duration_seconds",
			Help:    "Time taken by one TTL and status-timeout sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdp_api_requests_total",
			Help: "Total number of API requests by method and status code",
		},
		[]string{"method", "code"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdp_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(ActivationsTotal)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(TTLExpiries)
	prometheus.MustRegister(ProvisionalReleases)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ComponentHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
