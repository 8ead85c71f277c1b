package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts ledger submissions by choice and outcome
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_submissions_total",
			Help: "Total number of ledger command submissions",
		},
		[]string{"choice", "status"},
	)

	// SubmissionRetries counts retried submission attempts
	SubmissionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_submission_retries_total",
			Help: "Total number of submission attempts retried after a transient failure",
		},
		[]string{"choice"},
	)

	// SubmissionDuration tracks submit-and-wait latency including retries
	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cbtc_submission_duration_seconds",
			Help:    "Submission duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"choice"},
	)

	// SelectionsTotal counts holding selections by outcome
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_holding_selections_total",
			Help: "Total number of holding selections",
		},
		[]string{"status"},
	)

	// SelectedHoldings tracks how many holdings a selection consumed
	SelectedHoldings = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cbtc_selected_holdings",
			Help:    "Number of holdings consumed per selection",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		},
	)

	// TransfersTotal counts token transfers by kind and status
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_transfers_total",
			Help: "Total number of CBTC transfers",
		},
		[]string{"kind", "status"},
	)

	// FlowStepsTotal counts mint and burn workflow steps reached
	FlowStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_flow_steps_total",
			Help: "Total number of mint/burn workflow steps by outcome",
		},
		[]string{"flow", "step", "status"},
	)

	// PollAttempts counts completion polls
	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_poll_attempts_total",
			Help: "Total number of completion polls",
		},
		[]string{"watch", "status"},
	)

	// BatchDuration tracks full batch run time
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cbtc_batch_duration_seconds",
			Help:    "Batch distribution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// BatchItems counts batch items by outcome
	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_batch_items_total",
			Help: "Total number of batch items by outcome",
		},
		[]string{"status"},
	)

	// ErrorsTotal counts errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbtc_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
