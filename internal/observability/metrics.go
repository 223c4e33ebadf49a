package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_processed_total",
			Help: "Total number of stage tasks processed by outcome",
		},
		[]string{"stage", "outcome"},
	)
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_task_duration_seconds",
			Help:    "Stage task duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	RowsStagedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_rows_staged_total",
			Help: "Total number of staging rows inserted",
		},
	)
	RowsByStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_rows_status_total",
			Help: "Total number of staging-row status transitions written",
		},
		[]string{"status"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of mail-provider requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	ProviderSubErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_batch_sub_errors_total",
			Help: "Per-message outcomes inside provider batch gets",
		},
		[]string{"decision"},
	)

	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Total number of model inference calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	LockAcquireBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "user_slot_lock_busy_total",
			Help: "Fetch tasks rescheduled because no user slot was free",
		},
	)

	RedactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pii_redactions_total",
			Help: "Redacted spans by placeholder category",
		},
		[]string{"category"},
	)

	EntitiesRecognizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ner_entities_total",
			Help: "Recognized entities by label",
		},
		[]string{"label"},
	)
)

// InitMetrics registers every pipeline collector with the default registry.
func InitMetrics() {
	prometheus.MustRegister(TasksProcessedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(RowsStagedTotal)
	prometheus.MustRegister(RowsByStatusTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderSubErrorsTotal)
	prometheus.MustRegister(ModelRequestsTotal)
	prometheus.MustRegister(LockAcquireBusyTotal)
	prometheus.MustRegister(RedactionsTotal)
	prometheus.MustRegister(EntitiesRecognizedTotal)
}

// ObserveRedactionCounts feeds a redaction count map into the category counters.
func ObserveRedactionCounts(counts map[string]int) {
	for category, n := range counts {
		if n > 0 {
			RedactionsTotal.WithLabelValues(category).Add(float64(n))
		}
	}
}
