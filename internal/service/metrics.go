package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_signals_total", Help: "Inbound webhook signals by parsed action and outcome"},
		[]string{"action", "status"},
	)
	ExchangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_exchange_requests_total", Help: "Exchange REST calls by endpoint and outcome"},
		[]string{"exchange", "endpoint", "outcome"},
	)
	ExchangeRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_exchange_request_seconds",
			Help:    "Exchange REST call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"exchange", "endpoint"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_orders_total", Help: "Orders submitted"},
		[]string{"exchange", "side", "result"},
	)
)

func init() {
	prometheus.MustRegister(SignalsTotal, ExchangeRequestsTotal, ExchangeRequestSeconds, OrdersTotal)
}
