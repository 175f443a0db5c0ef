package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ValidationJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_validation_jobs_total",
			Help: "Total number of validation jobs by file type and outcome.",
		},
		[]string{"file_type", "status"},
	)

	ValidationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_validation_duration_seconds",
			Help:    "Duration of validation jobs in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"file_type", "status"},
	)

	RowsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_rows_processed_total",
			Help: "Total number of file rows read by validation.",
		},
		[]string{"file_type"},
	)

	FindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_findings_total",
			Help: "Total number of finding occurrences by file type and severity.",
		},
		[]string{"file_type", "severity"},
	)

	JobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_jobs_active",
			Help: "Number of validation jobs currently running on this node.",
		},
		[]string{"node_id"},
	)

	PublicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publications_total",
			Help: "Total number of submission publication actions by kind and outcome.",
		},
		[]string{"kind", "status"},
	)

	DerivationPassDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_derivation_pass_duration_seconds",
			Help:    "Duration of individual derivation passes in seconds.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"pass"},
	)

	SubmissionsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_submissions_purged_total",
			Help: "Total number of stale test submissions purged.",
		},
	)

	WorkerClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_worker_claims_total",
			Help: "Total number of jobs successfully claimed by worker node.",
		},
		[]string{"node_id"},
	)

	WorkerClaimContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_worker_claim_contention_total",
			Help: "Total number of worker claim contention events.",
		},
		[]string{"node_id"},
	)

	WorkerLeaseExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_worker_lease_expirations_total",
			Help: "Total number of expired worker job leases reclaimed by node.",
		},
		[]string{"node_id"},
	)
)

// All lists every broker collector.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ValidationJobsTotal,
		ValidationDurationSeconds,
		RowsProcessedTotal,
		FindingsTotal,
		JobsActive,
		PublicationsTotal,
		DerivationPassDurationSeconds,
		SubmissionsPurgedTotal,
		WorkerClaimsTotal,
		WorkerClaimContentionTotal,
		WorkerLeaseExpirationsTotal,
	}
}
