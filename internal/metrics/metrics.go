package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the process-wide Prometheus collectors.
type Metrics struct {
	AdmissionTotal *prometheus.CounterVec // Admission decisions by result.

	DebitTotal  *prometheus.CounterVec // Debit operations by category and pool.
	DebitPoints *prometheus.CounterVec // Debited points by category.

	CompactionTotal    *prometheus.CounterVec // Compaction outcomes by decision.
	CompactionDuration prometheus.Histogram   // Summary regeneration latency.

	QuizGenerationTotal *prometheus.CounterVec // Quiz generations by source.
	QuizAnswerTotal     *prometheus.CounterVec // Quiz answers by correctness.

	ProviderRequestDuration *prometheus.HistogramVec // Provider call latency by operation.

	LockAcquireTotal *prometheus.CounterVec // Advisory lock acquisitions by result.
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Get returns the process-wide metrics, registering collectors once.
func Get() *Metrics {
	globalOnce.Do(func() {
		global = &Metrics{
			AdmissionTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_admission_total",
					Help: "Total conversation admission decisions",
				},
				[]string{"result"},
			),
			DebitTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_debit_total",
					Help: "Total point debit operations",
				},
				[]string{"category", "charged_to"},
			),
			DebitPoints: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_debit_points_total",
					Help: "Total points debited",
				},
				[]string{"category"},
			),
			CompactionTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_compaction_total",
					Help: "Total history compaction outcomes",
				},
				[]string{"decision"},
			),
			CompactionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learnloop_compaction_duration_seconds",
					Help:    "Duration of summary regeneration",
					Buckets: prometheus.DefBuckets,
				},
			),
			QuizGenerationTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_quiz_generation_total",
					Help: "Total quiz generations",
				},
				[]string{"source"},
			),
			QuizAnswerTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_quiz_answer_total",
					Help: "Total quiz answer submissions",
				},
				[]string{"correct"},
			),
			ProviderRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "learnloop_provider_request_duration_seconds",
					Help:    "Duration of text-generation provider calls",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			LockAcquireTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnloop_lock_acquire_total",
					Help: "Total advisory lock acquisitions",
				},
				[]string{"result"},
			),
		}
	})
	return global
}
