package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CartMetrics holds Prometheus metrics for the reservation engine.
// All metrics carry an event_slug label so dashboards can be segmented
// per event.
type CartMetrics struct {
	// Commit outcomes
	CommitsTotal   *prometheus.CounterVec
	CommitDuration *prometheus.HistogramVec
	LockTimeouts   *prometheus.CounterVec

	// Position lifecycle
	PositionsCreated *prometheus.CounterVec
	PositionsRemoved *prometheus.CounterVec
	PositionsExpired *prometheus.CounterVec

	// Demand shaping
	PartialFulfillments *prometheus.CounterVec
	VoucherRedemptions  *prometheus.CounterVec
	SeatConflicts       *prometheus.CounterVec

	// Task queue
	TasksReceived *prometheus.CounterVec
	TaskRetries   *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
}

// NewCartMetrics creates all reservation engine metrics and registers
// them with reg; nil registers with the default registerer.
func NewCartMetrics(reg prometheus.Registerer, namespace string) *CartMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "sigyn"
	}

	subsystem := "cart"
	factory := promauto.With(reg)

	return &CartMetrics{
		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "commits_total",
				Help:      "Total cart commits by outcome",
			},
			[]string{"event_slug", "result"}, // result: ok, soft_error, hard_error, busy
		),
		CommitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "commit_duration_seconds",
				Help:      "Wall time of a full cart commit including lock wait",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"event_slug"},
		),
		LockTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lock_timeouts_total",
				Help:      "Total lock acquisition timeouts",
			},
			[]string{"event_slug"},
		),

		PositionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "positions_created_total",
				Help:      "Total cart positions created",
			},
			[]string{"event_slug"},
		),
		PositionsRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "positions_removed_total",
				Help:      "Total cart positions removed",
			},
			[]string{"event_slug", "reason"}, // reason: user, expired, unavailable, policy
		),
		PositionsExpired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "positions_expired_total",
				Help:      "Total positions found expired at commit time",
			},
			[]string{"event_slug"},
		),

		PartialFulfillments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "partial_fulfillments_total",
				Help:      "Total add operations clipped below the requested count",
			},
			[]string{"event_slug"},
		),
		VoucherRedemptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "voucher_redemptions_total",
				Help:      "Total voucher uses reserved in carts",
			},
			[]string{"event_slug"},
		),
		SeatConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "seat_conflicts_total",
				Help:      "Total seat selections lost to a concurrent cart",
			},
			[]string{"event_slug"},
		),

		TasksReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tasks_received_total",
				Help:      "Total cart tasks consumed from the queue",
			},
			[]string{"event_slug", "task"}, // task: add, remove, voucher, extend, addons, clear
		),
		TaskRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "task_retries_total",
				Help:      "Total task retries after a lock timeout",
			},
			[]string{"event_slug", "task"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "task_duration_seconds",
				Help:      "End to end task processing time including retries",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"event_slug", "task"},
		),
	}
}
