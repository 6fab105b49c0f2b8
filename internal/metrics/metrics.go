// Package metrics exposes ledger activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thanhnp/supplychain-ledger/internal/models"
)

const namespace = "ledger"

// Metrics implements ledger.Observer on top of Prometheus collectors
type Metrics struct {
	transactionsRecorded prometheus.Counter
	blocksSealed         prometheus.Counter
	sealFailures         *prometheus.CounterVec
	chainLength          prometheus.Gauge
	pendingTransactions  prometheus.Gauge
	sealDuration         prometheus.Histogram
	integrityChecks      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transactionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_recorded_total",
			Help:      "Transactions appended to the pending buffer.",
		}),
		blocksSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_sealed_total",
			Help:      "Blocks sealed into the chain.",
		}),
		sealFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seal_failures_total",
			Help:      "Failed seal attempts by reason.",
		}, []string{"reason"}),
		chainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_length",
			Help:      "Number of blocks in the chain.",
		}),
		pendingTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transactions",
			Help:      "Transactions waiting to be sealed.",
		}),
		sealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seal_duration_seconds",
			Help:      "Time spent hashing and persisting a block.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		integrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_checks_total",
			Help:      "Chain verifications by result.",
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		m.transactionsRecorded,
		m.blocksSealed,
		m.sealFailures,
		m.chainLength,
		m.pendingTransactions,
		m.sealDuration,
		m.integrityChecks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// TransactionRecorded counts a recorded transaction and sets the pending gauge
func (m *Metrics) TransactionRecorded(pending int) {
	m.transactionsRecorded.Inc()
	m.pendingTransactions.Set(float64(pending))
}

// BlockSealed counts a sealed block and observes how long the seal took
func (m *Metrics) BlockSealed(block *models.Block, chainLength int, elapsed time.Duration) {
	m.blocksSealed.Inc()
	m.chainLength.Set(float64(chainLength))
	m.pendingTransactions.Set(0)
	m.sealDuration.Observe(elapsed.Seconds())
}

// SealFailed counts a failed seal under the given reason label
func (m *Metrics) SealFailed(reason string) {
	m.sealFailures.WithLabelValues(reason).Inc()
}

// IntegrityChecked counts a chain verification by its result
func (m *Metrics) IntegrityChecked(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.integrityChecks.WithLabelValues(result).Inc()
}

// SetChainLength records the chain length observed at startup
func (m *Metrics) SetChainLength(n int) {
	m.chainLength.Set(float64(n))
}
