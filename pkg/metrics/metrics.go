package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandchest_worker_ticks_total",
			Help: "Total number of policy worker ticks by worker and result",
		},
		[]string{"worker", "result"},
	)

	WorkerRowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandchest_worker_rows_processed_total",
			Help: "Total number of rows acted on by each policy worker",
		},
		[]string{"worker"},
	)

	WorkerTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandchest_worker_tick_duration_seconds",
			Help:    "Duration of policy worker ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)

	WorkerLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandchest_worker_is_leader",
			Help: "Whether this instance holds the leader lock for a worker (1 = leader)",
		},
		[]string{"worker"},
	)

	// Admission metrics
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandchest_rate_limit_decisions_total",
			Help: "Rate limit decisions by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	SlotLeaseOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandchest_slot_lease_ops_total",
			Help: "Slot lease operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// State metrics
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandchest_sandboxes_total",
			Help: "Total number of sandboxes by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandchest_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandchest_events_published_total",
			Help: "Total number of sandbox events published by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(WorkerTicksTotal)
	prometheus.MustRegister(WorkerRowsProcessed)
	prometheus.MustRegister(WorkerTickDuration)
	prometheus.MustRegister(WorkerLeader)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(SlotLeaseOps)
	prometheus.MustRegister(SandboxesTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(EventsPublished)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for observation into a histogram
type Timer struct {
	start time.Time
}

// NewTimer creates a timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into the given observer
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(time.Since(t.start).Seconds())
}
