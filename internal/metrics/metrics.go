package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxbot_bars_total", Help: "Closed bars ingested"},
		[]string{"instrument"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxbot_signals_total", Help: "Combined signals by filter outcome"},
		[]string{"instrument", "action", "outcome"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fxbot_orders_total", Help: "Orders by terminal status"},
		[]string{"instrument", "action", "status"},
	)
	TradingState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fxbot_trading_state", Help: "0=enabled 1=disabled 2=emergency stop"},
	)
	DailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fxbot_daily_pnl", Help: "Realized P&L for the current UTC day"},
	)
	DailyTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fxbot_daily_trades", Help: "Order attempts for the current UTC day"},
	)
	EvaluationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fxbot_evaluation_seconds",
			Help:    "Latency of one instrument evaluation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instrument"},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, SignalsTotal, OrdersTotal, TradingState, DailyPnL, DailyTrades, EvaluationSeconds)
}

// ObserveEvaluation records how long one evaluation of instrument took since start.
func ObserveEvaluation(instrument string, start time.Time) {
	EvaluationSeconds.WithLabelValues(instrument).Observe(time.Since(start).Seconds())
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
