// Package obs provides the structured logging and metrics surface shared by
// every fog node process: a zerolog.Logger and a package-local Prometheus
// registry served at GET /api/metrics.
package obs

import (
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide logger. Pretty console output when
// attached to a terminal, structured JSON otherwise.
func NewLogger(w io.Writer, nodeID string, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("node_id", nodeID).Logger()
}

var (
	registryOnce sync.Once
	registry     *prometheus.Registry

	bidsTotal        *prometheus.CounterVec
	auctionDuration  prometheus.Histogram
	routingTableSize prometheus.Gauge
	reservationsActive prometheus.Gauge
)

// Registry returns the process-wide Prometheus registry, creating and
// registering the fog-specific metrics on first use.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		bidsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fog_bids_total",
			Help: "Total local bids produced, partitioned by outcome.",
		}, []string{"outcome"})
		auctionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fog_auction_duration_seconds",
			Help:    "Wall-clock time to aggregate a bid across a subtree.",
			Buckets: prometheus.DefBuckets,
		})
		routingTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fog_routing_table_size",
			Help: "Number of routing entries currently installed on this node.",
		})
		reservationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fog_reservations_active",
			Help: "Number of nodes holding a non-zero resource reservation in the auction repository.",
		})
		registry.MustRegister(bidsTotal, auctionDuration, routingTableSize, reservationsActive)
	})
	return registry
}

// RecordBidOutcome increments fog_bids_total{outcome}.
func RecordBidOutcome(outcome string) {
	Registry()
	bidsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuctionDuration records a completed auction's wall-clock time.
func ObserveAuctionDuration(d time.Duration) {
	Registry()
	auctionDuration.Observe(d.Seconds())
}

// SetRoutingTableSize publishes the current routing table size.
func SetRoutingTableSize(n int) {
	Registry()
	routingTableSize.Set(float64(n))
}

// SetReservationsActive publishes the current count of nodes holding a
// non-zero reservation.
func SetReservationsActive(n int) {
	Registry()
	reservationsActive.Set(float64(n))
}

// MetricsHandler serves the registry in Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}
