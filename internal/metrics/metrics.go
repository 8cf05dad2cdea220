package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway
	STKPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_pushes_total",
			Help: "Total STK push initiations",
		},
		[]string{"outcome"}, // accepted|rejected|error
	)
	TokenRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mpesa_token_refreshes_total",
			Help: "Total gateway token refreshes",
		},
	)

	// Callbacks
	Callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_total",
			Help: "Total gateway callbacks received",
		},
		[]string{"result"}, // completed|failed|invalid
	)

	// Ledger
	LedgerSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_size",
			Help: "Current number of records in the transaction ledger",
		},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(STKPushes)
	prometheus.MustRegister(TokenRefreshes)
	prometheus.MustRegister(Callbacks)
	prometheus.MustRegister(LedgerSize)
	prometheus.MustRegister(WorkerQueueDepth)
}
