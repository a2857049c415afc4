// Package metrics exposes Prometheus instrumentation for the exchange
// server: request counts by type and result, matching activity, and
// authentication outcomes.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a3st/exchanged/pkg/logging"
)

var (
	// RequestsTotal counts dispatcher requests by message type and result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchanged_requests_total",
			Help: "Total number of dispatched requests by type and error code",
		},
		[]string{"type", "error_code"},
	)

	// MatchesTotal counts settled trades.
	MatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchanged_matches_total",
			Help: "Total number of trades settled by the matcher",
		},
	)

	// OrdersTotal counts orders inserted into the book by side.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchanged_orders_total",
			Help: "Total number of orders accepted into the book",
		},
		[]string{"side"},
	)

	// AuthFailuresTotal counts SRP handshake failures by stage.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchanged_auth_failures_total",
			Help: "Total number of SRP authentication failures",
		},
		[]string{"stage"},
	)

	// MatcherPassDuration tracks how long one ProcessRequests pass takes.
	MatcherPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exchanged_matcher_pass_duration_seconds",
			Help:    "Duration of one matcher pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Server serves the /metrics endpoint on its own listener. Disabled
// (never started) when neither the server binary's --metrics-addr flag nor
// the config file's metrics_addr is set.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server until Shutdown is called. Errors other than
// http.ErrServerClosed are logged, not fatal — metrics are an enrichment,
// not core functionality.
func (s *Server) Start() {
	log := logging.GetDefault().Component("metrics")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "err", err)
		}
	}()
}

// Shutdown stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
