// Package telemetry exposes prometheus gauges and counters for the
// coordination kernel, grounded on the pack's domain metrics package
// (cuemby-warren/pkg/metrics/metrics.go): package-level collectors
// registered in init, a Handler for the HTTP mux, and a Timer helper for
// duration histograms.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkItemsTotal tracks the live count of work items by status.
	WorkItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sergeant_work_items_total",
			Help: "Total number of work items by status",
		},
		[]string{"status"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sergeant_agents_total",
			Help: "Total number of agents by status",
		},
		[]string{"status"},
	)

	TasksCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergeant_tasks_created_total",
			Help: "Total number of tasks created by persona",
		},
		[]string{"persona"},
	)

	TasksClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergeant_tasks_claimed_total",
			Help: "Total number of tasks claimed by persona",
		},
		[]string{"persona"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergeant_tasks_completed_total",
			Help: "Total number of tasks completed by persona",
		},
		[]string{"persona"},
	)

	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergeant_tasks_failed_total",
			Help: "Total number of tasks failed by persona",
		},
		[]string{"persona"},
	)

	ClaimRaceLossesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sergeant_claim_race_losses_total",
			Help: "Total number of atomic claim attempts that lost the race",
		},
	)

	AgentsKilledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sergeant_agents_killed_total",
			Help: "Total number of agents killed",
		},
	)

	WorkItemsReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sergeant_work_items_reclaimed_total",
			Help: "Total number of in-progress work items reclaimed by an agent kill",
		},
	)

	GetNextTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sergeant_get_next_task_duration_seconds",
			Help:    "Time spent in the get_next_task long-poll dispatcher",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventBusSubscribersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sergeant_event_bus_subscribers_total",
			Help: "Live subscriber count per event bus",
		},
		[]string{"bus"},
	)

	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergeant_audit_writes_total",
			Help: "Total number of audit log rows persisted by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(WorkItemsTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(TasksCreatedTotal)
	prometheus.MustRegister(TasksClaimedTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(ClaimRaceLossesTotal)
	prometheus.MustRegister(AgentsKilledTotal)
	prometheus.MustRegister(WorkItemsReclaimedTotal)
	prometheus.MustRegister(GetNextTaskDuration)
	prometheus.MustRegister(EventBusSubscribersTotal)
	prometheus.MustRegister(AuditWritesTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
