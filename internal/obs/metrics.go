package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"

	"main/internal/risk"
	"main/internal/schema"
)

var (
	metricEquity   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_equity", Help: "Mark-to-market equity"})
	metricCash     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_cash", Help: "Free cash"})
	metricLeverage = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_leverage", Help: "Gross exposure over equity"})
	metricExposure = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_gross_exposure", Help: "Sum of absolute open notionals"})
	metricVaR      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_var", Help: "Latest value-at-risk estimate"})
	metricCVaR     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trader_cvar", Help: "Latest conditional value-at-risk estimate"})

	metricOrdersSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_orders_submitted_total", Help: "Orders handed to the brokerage"})
	metricOrdersFilled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_orders_filled_total", Help: "Fill events reconciled into positions"})
	metricOrdersRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_orders_rejected_total", Help: "Orders rejected by risk validation"})
	metricOrdersClamped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_orders_clamped_total", Help: "Orders clamped down by risk validation"})
	metricRetryExhausted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_retries_exhausted_total", Help: "Submissions abandoned after the retry budget"})
	metricRiskBreaches    = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_risk_breaches_total", Help: "Risk limit breaches observed"})

	metricTierFallback = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_tier_fallback_total",
		Help: "Market data tier degradations by tier",
	}, []string{"tier"})

	metricTicks = prometheus.NewCounter(prometheus.CounterOpts{Name: "trader_ticks_total", Help: "Completed session ticks"})
)

func init() {
	prometheus.MustRegister(
		metricEquity, metricCash, metricLeverage, metricExposure,
		metricVaR, metricCVaR,
		metricOrdersSubmitted, metricOrdersFilled, metricOrdersRejected,
		metricOrdersClamped, metricRetryExhausted, metricRiskBreaches,
		metricTierFallback, metricTicks,
	)
}

// ObserveEquity publishes an equity snapshot to the gauges. Wire it
// as the executor's equity hook.
func ObserveEquity(snapshot risk.EquitySnapshot) {
	metricEquity.Set(snapshot.Equity)
	metricCash.Set(snapshot.Cash)
	metricLeverage.Set(snapshot.Leverage)
	metricExposure.Set(snapshot.GrossExposure)
}

// ObserveRisk publishes refreshed tail-risk estimates.
func ObserveRisk(latestVaR, latestCVaR float64) {
	metricVaR.Set(latestVaR)
	metricCVaR.Set(latestCVaR)
}

// ObserveDecision counts the outcome of one risk validation.
func ObserveDecision(decision risk.Decision) {
	switch decision.Action {
	case risk.ActionReject:
		metricOrdersRejected.Inc()
	case risk.ActionClamp:
		metricOrdersClamped.Inc()
	}
}

func IncOrderSubmitted() { metricOrdersSubmitted.Inc() }
func IncOrderFilled()    { metricOrdersFilled.Inc() }
func IncRetryExhausted() { metricRetryExhausted.Inc() }
func IncRiskBreach()     { metricRiskBreaches.Inc() }
func IncTick()           { metricTicks.Inc() }

// IncTierFallback counts one tier degradation. Wire it as the
// cascade's fallback observer.
func IncTierFallback(tier schema.SourceTier) {
	metricTierFallback.WithLabelValues(tier.String()).Inc()
}

// ServeMetrics exposes the prometheus handler on addr until the
// server fails. Meant to run in its own goroutine.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Errorf("metrics server stopped: %v", err)
	}
}
