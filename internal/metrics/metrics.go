package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	signalsEvaluatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_signals_evaluated_total",
		Help: "Total number of signals evaluated by the engine",
	})
	signalsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_signals_blocked_total",
		Help: "Total number of signals the engine told the host to block",
	})
	threatsDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_threats_detected_total",
		Help: "Total number of signals that carried a positive threat score",
	})
	blacklistPromotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_blacklist_promotions_total",
		Help: "Total number of IPs promoted to the blacklist",
	})
	degradedEvaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_degraded_evaluations_total",
		Help: "Total number of evaluations that failed open on a storage error",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		signalsEvaluatedTotal,
		signalsBlockedTotal,
		threatsDetectedTotal,
		blacklistPromotionsTotal,
		degradedEvaluationsTotal,
	)
}

// IncEvaluated increments the evaluated signals counter.
func IncEvaluated() { signalsEvaluatedTotal.Inc() }

// IncBlocked increments the blocked signals counter.
func IncBlocked() { signalsBlockedTotal.Inc() }

// IncThreat increments the detected threats counter.
func IncThreat() { threatsDetectedTotal.Inc() }

// IncBlacklistPromotion increments the blacklist promotions counter.
func IncBlacklistPromotion() { blacklistPromotionsTotal.Inc() }

// IncDegraded increments the fail-open evaluations counter.
func IncDegraded() { degradedEvaluationsTotal.Inc() }
