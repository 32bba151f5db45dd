package metrics

import (
	"strconv"
	"sync"
	"time"

	"possync/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "possync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Reconciliation passes by trigger and outcome. partial marks successes that left failures behind.",
		},
		[]string{"trigger", "outcome", "partial"},
	)

	syncRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of a reconciliation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	ordersSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_synced_total",
			Help:      "Orders confirmed by the backend.",
		},
	)

	ordersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_failed_total",
			Help:      "Failed order submissions by error kind.",
		},
		[]string{"kind"},
	)

	ordersDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_dead_lettered_total",
			Help:      "Orders moved to failed after exhausting attempts.",
		},
	)

	submitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_submit_duration_seconds",
			Help:      "Latency of order submissions to the backend.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	ordersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders",
			Help:      "Orders in the local store by sync state.",
		},
		[]string{"state"},
	)

	scheduleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_state",
			Help:      "1 for the scheduler's current state, 0 otherwise.",
		},
		[]string{"state"},
	)

	consecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_consecutive_failures",
			Help:      "Passes in a row that ended in total failure.",
		},
	)
)

var scheduleStates = []models.ScheduleState{
	models.ScheduleIdle, models.ScheduleScheduled, models.ScheduleRunning, models.ScheduleBackoff,
}

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncRuns,
			syncRunDuration,
			ordersSynced,
			ordersFailed,
			ordersDeadLettered,
			submitDuration,
			ordersByState,
			scheduleState,
			consecutiveFailures,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveRun records a finished pass.
func ObserveRun(run models.SyncRun) {
	syncRuns.WithLabelValues(string(run.Trigger), string(run.Outcome), strconv.FormatBool(run.Partial())).Inc()
	if !run.FinishedAt.IsZero() {
		syncRunDuration.Observe(run.Duration().Seconds())
	}
}

func IncOrderSynced() {
	ordersSynced.Inc()
}

func IncOrderFailed(kind string) {
	ordersFailed.WithLabelValues(kind).Inc()
}

func IncDeadLettered() {
	ordersDeadLettered.Inc()
}

// ObserveSubmit records gateway latency; result is "ok" or an error kind.
func ObserveSubmit(result string, d time.Duration) {
	submitDuration.WithLabelValues(result).Observe(d.Seconds())
}

func SetOrderCounts(counts map[models.SyncState]int) {
	for state, n := range counts {
		ordersByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

func SetScheduleState(state models.ScheduleState) {
	for _, s := range scheduleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		scheduleState.WithLabelValues(string(s)).Set(v)
	}
}

func SetConsecutiveFailures(n int) {
	consecutiveFailures.Set(float64(n))
}
