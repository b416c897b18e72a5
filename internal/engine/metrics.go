package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollout_tasks_in_flight",
			Help: "Number of background rollout tasks currently executing or writing results.",
		},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_tasks_total",
			Help: "Total number of finished rollout tasks by outcome.",
		},
		[]string{"status"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollout_task_duration_seconds",
			Help:    "Work unit execution time in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	resultWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_result_writes_total",
			Help: "Total number of result writes by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(resultWrites)

	// Pre-initialize label combinations so they appear in /metrics with value 0
	// from startup.
	tasksTotal.WithLabelValues("success")
	tasksTotal.WithLabelValues("error")
	resultWrites.WithLabelValues(writeOutcomeStored)
	resultWrites.WithLabelValues(writeOutcomeFailed)
}
