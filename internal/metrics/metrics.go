package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paytrack"

// Metrics holds tracker and estimator instrumentation.
type Metrics struct {
	TxRecorded        prometheus.Counter
	TxTransitions     *prometheus.CounterVec
	TxInflight        prometheus.Gauge
	ConfirmationPolls prometheus.Counter
	PersistFailures   prometheus.Counter

	FeeRefreshes *prometheus.CounterVec
	BaseFeeWei   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TxRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "recorded_total",
			Help:      "Transactions recorded for tracking",
		}),
		TxTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions out of pending",
		}, []string{"state"}),
		TxInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "inflight",
			Help:      "Monitoring goroutines currently running",
		}),
		ConfirmationPolls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "confirmation_polls_total",
			Help:      "Confirmation depth polls issued",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "persist_failures_total",
			Help:      "Failed writes of the record set",
		}),
		FeeRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fees",
			Name:      "refreshes_total",
			Help:      "Base fee refreshes by result",
		}, []string{"result"}),
		BaseFeeWei: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fees",
			Name:      "base_fee_wei",
			Help:      "Last cached base fee per gas",
		}),
	}
}

// NewNop returns metrics bound to a private registry nobody scrapes.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
