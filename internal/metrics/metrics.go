package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Evaluation cycles started per symbol"},
		[]string{"symbol"},
	)
	CycleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycle_errors_total", Help: "Evaluation cycles aborted, by stage"},
		[]string{"symbol", "stage"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	SubmitRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "submit_retries_total", Help: "Order submission retries after transient failures"},
		[]string{"symbol"},
	)
	OrdersUnknownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_unknown_total", Help: "Orders left in unknown state after retry exhaustion"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleErrorsTotal, OrdersTotal, SubmitRetriesTotal, OrdersUnknownTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
