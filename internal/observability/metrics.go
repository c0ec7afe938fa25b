package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	liquidityDenialCounter    prometheus.Counter
	availableLiquidityGauge   prometheus.Gauge
	balanceRejectionCounter   *prometheus.CounterVec
	approvalTransitionCounter *prometheus.CounterVec
	invariantViolationCounter *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		liquidityDenialCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_liquidity_denials_total",
			Help: "Payouts denied by the liquidity gate",
		})

		availableLiquidityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_available_liquidity_cents",
			Help: "Raw disposable liquidity as of the last gate check",
		})

		balanceRejectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_insufficient_balance_total",
			Help: "Debits rejected against the locked balance",
		}, []string{"workflow"})

		approvalTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_record_transitions_total",
			Help: "Transaction record state transitions",
		}, []string{"action"})

		invariantViolationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Reconciliation sweeps that found a broken invariant",
		}, []string{"kind"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			liquidityDenialCounter,
			availableLiquidityGauge,
			balanceRejectionCounter,
			approvalTransitionCounter,
			invariantViolationCounter,
			workerRunCounter,
		)
	})
}

func IncrementLiquidityDenial() {
	if liquidityDenialCounter == nil {
		return
	}
	liquidityDenialCounter.Inc()
}

func SetAvailableLiquidity(cents int64) {
	if availableLiquidityGauge == nil {
		return
	}
	availableLiquidityGauge.Set(float64(cents))
}

func IncrementBalanceRejection(workflow string) {
	if balanceRejectionCounter == nil {
		return
	}
	balanceRejectionCounter.WithLabelValues(workflow).Inc()
}

func IncrementApprovalTransition(action string) {
	if approvalTransitionCounter == nil {
		return
	}
	approvalTransitionCounter.WithLabelValues(action).Inc()
}

func IncrementInvariantViolation(kind string) {
	if invariantViolationCounter == nil {
		return
	}
	invariantViolationCounter.WithLabelValues(kind).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
