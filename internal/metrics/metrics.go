package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the barter pool collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "barterpool",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barterpool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "barterpool",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	poolTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barterpool",
			Subsystem: "pool",
			Name:      "transitions_total",
			Help:      "Pool status transitions.",
		},
		[]string{"from", "to"},
	)

	ledgerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barterpool",
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Contribution ledger mutations by kind.",
		},
		[]string{"kind"},
	)

	matchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barterpool",
			Subsystem: "match",
			Name:      "outcomes_total",
			Help:      "Match results by outcome: matched, failed, discarded.",
		},
		[]string{"outcome"},
	)

	matchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "barterpool",
			Subsystem: "match",
			Name:      "search_duration_seconds",
			Help:      "Duration of external searches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	paymentDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barterpool",
			Subsystem: "payment",
			Name:      "deliveries_total",
			Help:      "Payment instruction delivery attempts.",
		},
		[]string{"kind", "result"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "barterpool",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "barterpool",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		poolTransitions,
		ledgerEvents,
		matchOutcomes,
		matchDuration,
		paymentDeliveries,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency labelled by mux route template.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordTransition(from, to string) {
	poolTransitions.WithLabelValues(from, to).Inc()
}

func RecordLedgerEvent(kind string) {
	ledgerEvents.WithLabelValues(kind).Inc()
}

func RecordMatchOutcome(outcome string) {
	matchOutcomes.WithLabelValues(outcome).Inc()
}

func ObserveSearch(d time.Duration) {
	matchDuration.Observe(d.Seconds())
}

func RecordPaymentDelivery(kind, result string) {
	paymentDeliveries.WithLabelValues(kind, result).Inc()
}

// RecordJobRun records one scheduled job execution.
func RecordJobRun(job string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
