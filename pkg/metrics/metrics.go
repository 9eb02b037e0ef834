// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "x1_engine"

	outcomeLabel = "outcome"
	reasonLabel  = "reason"
)

// Outcome label values.
const (
	OutcomeCommitSuccess = "commit_success"
	OutcomeCommitFailure = "commit_failure"
	OutcomeReject        = "reject"
	OutcomeAbort         = "abort"
)

// Engine holds the transaction execution collectors.
type Engine struct {
	transactions  *prometheus.CounterVec
	costUnits     *prometheus.CounterVec
	lockConflicts prometheus.Counter
	badDebt       prometheus.Counter
	feeCollected  prometheus.Counter
	execDuration  prometheus.Histogram
}

// New creates the engine collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Engine, error) {
	m := &Engine{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Executed transactions by receipt outcome.",
		}, []string{outcomeLabel}),
		costUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_units_total",
			Help:      "Cost units consumed by costing reason.",
		}, []string{reasonLabel}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "track",
			Name:      "lock_conflicts_total",
			Help:      "Substate lock acquisitions refused because of a conflicting holder.",
		}),
		badDebt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "bad_debt_total",
			Help:      "Transactions finalized with an unrepaid system loan.",
		}),
		feeCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "collected_xrd_total",
			Help:      "XRD kept by the fee collector after royalties.",
		}),
		execDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Wall time of transaction execution.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		m.transactions,
		m.costUnits,
		m.lockConflicts,
		m.badDebt,
		m.feeCollected,
		m.execDuration,
	} {
		errs = append(errs, reg.Register(c))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNop returns collectors that are not registered anywhere.
func NewNop() *Engine {
	m, _ := New(prometheus.NewRegistry())
	return m
}

// ObserveTransaction records one receipt outcome and its execution time.
func (m *Engine) ObserveTransaction(outcome string, seconds float64) {
	m.transactions.WithLabelValues(outcome).Inc()
	m.execDuration.Observe(seconds)
}

// AddCostUnits records cost units consumed for a reason.
func (m *Engine) AddCostUnits(reason string, units uint32) {
	if units == 0 {
		return
	}
	m.costUnits.WithLabelValues(reason).Add(float64(units))
}

// IncLockConflicts counts a refused lock acquisition.
func (m *Engine) IncLockConflicts() {
	m.lockConflicts.Inc()
}

// IncBadDebt counts a transaction left with bad debt.
func (m *Engine) IncBadDebt() {
	m.badDebt.Inc()
}

// AddFeeCollected records collected XRD. The float is for reporting only.
func (m *Engine) AddFeeCollected(xrd float64) {
	if xrd <= 0 {
		return
	}
	m.feeCollected.Add(xrd)
}
