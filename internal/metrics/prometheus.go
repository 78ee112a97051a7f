// Package metrics provides Prometheus metrics for the auction service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	AuctionDuration *prometheus.HistogramVec
	BiddersIncluded *prometheus.HistogramVec
	BiddersExcluded *prometheus.HistogramVec
	BidsReceived    *prometheus.CounterVec
	BidCPM          *prometheus.HistogramVec

	// Bidder metrics
	BidderRequests *prometheus.CounterVec
	BidderLatency  *prometheus.HistogramVec
	BidderErrors   *prometheus.CounterVec
	BidderTimeouts *prometheus.CounterVec

	// Slot lifecycle metrics
	SlotEvents *prometheus.CounterVec

	// Ad server metrics
	AdServerCalls   *prometheus.CounterVec
	AdServerLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "adlib"
	}

	m := newMetrics(namespace)

	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AuctionsTotal,
		m.AuctionDuration,
		m.BiddersIncluded,
		m.BiddersExcluded,
		m.BidsReceived,
		m.BidCPM,
		m.BidderRequests,
		m.BidderLatency,
		m.BidderErrors,
		m.BidderTimeouts,
		m.SlotEvents,
		m.AdServerCalls,
		m.AdServerLatency,
	)
	return m
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		// Auction metrics
		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auction rounds",
			},
			[]string{"status", "trigger"},
		),
		AuctionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_duration_seconds",
				Help:      "Auction round duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 1.5, 2},
			},
			[]string{"trigger"},
		),
		BiddersIncluded: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bidders_included",
				Help:      "Number of bidders included in the ad request per round",
				Buckets:   []float64{0, 1, 2, 3, 5, 7, 10, 15},
			},
			[]string{"trigger"},
		),
		BiddersExcluded: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bidders_excluded",
				Help:      "Number of bidders that missed the terminal action per round",
				Buckets:   []float64{0, 1, 2, 3, 5, 7, 10, 15},
			},
			[]string{"trigger"},
		),
		BidsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_received_total",
				Help:      "Total number of bids received",
			},
			[]string{"bidder"},
		),
		BidCPM: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_cpm",
				Help:      "Bid CPM distribution",
				Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"bidder"},
		),

		// Bidder metrics
		BidderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_requests_total",
				Help:      "Total requests to each bidder",
			},
			[]string{"bidder"},
		),
		BidderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bidder_latency_seconds",
				Help:      "Bidder response latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .15, .2, .3, .5, .75, 1, 2},
			},
			[]string{"bidder"},
		),
		BidderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_errors_total",
				Help:      "Total errors from bidders",
			},
			[]string{"bidder", "error_type"},
		),
		BidderTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_timeouts_total",
				Help:      "Total timeouts from bidders",
			},
			[]string{"bidder"},
		),

		// Slot lifecycle metrics
		SlotEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slot_events_total",
				Help:      "Total slot lifecycle events received",
			},
			[]string{"event"},
		),

		// Ad server metrics
		AdServerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ad_server_calls_total",
				Help:      "Total calls to the primary ad server",
			},
			[]string{"operation", "status"},
		),
		AdServerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ad_server_latency_seconds",
				Help:      "Ad server call latency in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an HTTP handler with request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RecordAuction records the outcome of one auction round.
func (m *Metrics) RecordAuction(status, trigger string, duration time.Duration, included, excluded int) {
	m.AuctionsTotal.WithLabelValues(status, trigger).Inc()
	if status == "completed" {
		m.AuctionDuration.WithLabelValues(trigger).Observe(duration.Seconds())
		m.BiddersIncluded.WithLabelValues(trigger).Observe(float64(included))
		m.BiddersExcluded.WithLabelValues(trigger).Observe(float64(excluded))
	}
}

// RecordBid records a single received bid.
func (m *Metrics) RecordBid(bidder string, cpm float64) {
	m.BidsReceived.WithLabelValues(bidder).Inc()
	m.BidCPM.WithLabelValues(bidder).Observe(cpm)
}

// RecordBidderRequest records one bidder call and its outcome.
func (m *Metrics) RecordBidderRequest(bidder string, latency time.Duration, hasError, timedOut bool) {
	m.BidderRequests.WithLabelValues(bidder).Inc()
	m.BidderLatency.WithLabelValues(bidder).Observe(latency.Seconds())
	if hasError {
		m.BidderErrors.WithLabelValues(bidder, "request").Inc()
	}
	if timedOut {
		m.BidderTimeouts.WithLabelValues(bidder).Inc()
	}
}

// RecordSlotEvent records a render/viewable/loaded event.
func (m *Metrics) RecordSlotEvent(event string) {
	m.SlotEvents.WithLabelValues(event).Inc()
}

// RecordAdServerCall records one call to the ad server collaborator.
func (m *Metrics) RecordAdServerCall(operation string, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AdServerCalls.WithLabelValues(operation, status).Inc()
	m.AdServerLatency.WithLabelValues(operation).Observe(latency.Seconds())
}
