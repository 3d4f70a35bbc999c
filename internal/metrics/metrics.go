package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "velox_ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	LateTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "velox_late_ticks_total", Help: "Ticks dropped for arriving behind the forming window"},
		[]string{"symbol"},
	)
	CandlesSealedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "velox_candles_sealed_total", Help: "Closed candles emitted by the aggregator"},
		[]string{"symbol", "timeframe"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "velox_signals_total", Help: "Signals produced by strategies"},
		[]string{"strategy", "action"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "velox_decisions_total", Help: "Risk admission outcomes by reason"},
		[]string{"result", "reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "velox_orders_total", Help: "Orders submitted to the execution port"},
		[]string{"symbol", "action"},
	)
	TradingHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "velox_trading_halted", Help: "1 while the emergency halt is active"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "velox_open_positions", Help: "Open positions across all strategies"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		LateTicksTotal,
		CandlesSealedTotal,
		SignalsTotal,
		DecisionsTotal,
		OrdersTotal,
		TradingHalted,
		OpenPositions,
	)
}

// Serve exposes /metrics on its own listener and returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
