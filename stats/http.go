package stats

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/youthmappers/mapactivity/log"
)

// StartHttpPProf serves the pprof handlers and the Prometheus metrics on
// bind. /metrics joins /debug/pprof on the default mux.
func StartHttpPProf(bind string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("[error] profile server: %v", http.ListenAndServe(bind, nil))
	}()
}
