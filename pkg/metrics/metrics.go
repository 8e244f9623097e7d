// Package metrics provides Prometheus metrics for the oracle engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SourceFetchesTotal counts fetch calls by outcome (success, empty, failure, timeout).
	SourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetches_total",
			Help: "Total number of source fetch calls by outcome",
		},
		[]string{"source", "outcome"},
	)

	// SourceFetchDuration is a histogram of per-source fetch latency.
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of a single source fetch call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	// SourceStatus is a gauge of source health status (one series per status, 1 = current).
	SourceStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_status",
			Help: "Health status of price sources (1 for the current status)",
		},
		[]string{"source", "status"},
	)

	// SourceLastSuccess is a gauge of the last successful fetch timestamp.
	SourceLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_last_success_timestamp",
			Help: "Unix timestamp of last successful fetch from source",
		},
		[]string{"source"},
	)

	// PriceAggregationDuration is a histogram of price aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pair"},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier observations.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier observations rejected",
		},
		[]string{"pair"},
	)

	// StaleDropsTotal is a counter of observations dropped by the freshness filter.
	StaleDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_drops_total",
			Help: "Total number of observations dropped as stale",
		},
		[]string{"pair"},
	)

	// ConfidenceScore is a gauge of the last emitted confidence score.
	ConfidenceScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aggregated_price_confidence",
			Help: "Confidence score of the last aggregated price (0-100)",
		},
		[]string{"pair"},
	)

	// NoDataTotal counts cycles that emitted a NoData signal.
	NoDataTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "no_data_total",
			Help: "Total number of cycles emitting NoData",
		},
		[]string{"pair", "reason"},
	)

	// CyclesTotal counts aggregation cycles by result (emitted, skipped, dropped).
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregation_cycles_total",
			Help: "Total number of aggregation cycles by result",
		},
		[]string{"pair", "result"},
	)

	// CycleDuration is a histogram of full cycle duration.
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregation_cycle_duration_seconds",
			Help:    "Duration of a full collect/aggregate/fold cycle",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"pair"},
	)

	// HistoryBucketsSealedTotal counts sealed OHLC buckets.
	HistoryBucketsSealedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_buckets_sealed_total",
			Help: "Total number of sealed history buckets",
		},
		[]string{"pair", "interval"},
	)

	// LateTicksTotal counts ticks rejected for already sealed windows.
	LateTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_late_ticks_total",
			Help: "Total number of ticks rejected because their window was sealed",
		},
		[]string{"pair", "interval"},
	)

	// PublishedEventsTotal counts events handed to publishers.
	PublishedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "published_events_total",
			Help: "Total number of published events",
		},
		[]string{"publisher", "type", "status"},
	)

	// SignaturesTotal counts signing attempts.
	SignaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signatures_total",
			Help: "Total number of signing attempts",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// statuses mirrors sources.Status values; kept here to avoid an import cycle.
var statuses = []string{"active", "inactive", "error", "testing"}

// Init initializes Prometheus metrics registry.
func Init() {
	prometheus.MustRegister(
		SourceFetchesTotal,
		SourceFetchDuration,
		SourceStatus,
		SourceLastSuccess,
		PriceAggregationDuration,
		OutlierRejectionsTotal,
		StaleDropsTotal,
		ConfidenceScore,
		NoDataTotal,
		CyclesTotal,
		CycleDuration,
		HistoryBucketsSealedTotal,
		LateTicksTotal,
		PublishedEventsTotal,
		SignaturesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address and path.
func ServeHTTP(addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordFetch records the outcome and latency of one source fetch.
func RecordFetch(source, outcome string, duration time.Duration) {
	SourceFetchesTotal.WithLabelValues(source, outcome).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordSourceStatus sets the status gauge so that only the current status reads 1.
func RecordSourceStatus(source, status string) {
	for _, s := range statuses {
		val := 0.0
		if s == status {
			val = 1.0
		}
		SourceStatus.WithLabelValues(source, s).Set(val)
	}
}

// RecordSourceSuccess records the time of a successful fetch.
func RecordSourceSuccess(source string, at time.Time) {
	SourceLastSuccess.WithLabelValues(source).Set(float64(at.Unix()))
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(pair string, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(pair).Observe(duration.Seconds())
}

// RecordOutlierRejections records rejected outliers for a pair.
func RecordOutlierRejections(pair string, n int) {
	if n > 0 {
		OutlierRejectionsTotal.WithLabelValues(pair).Add(float64(n))
	}
}

// RecordStaleDrops records stale observations dropped for a pair.
func RecordStaleDrops(pair string, n int) {
	if n > 0 {
		StaleDropsTotal.WithLabelValues(pair).Add(float64(n))
	}
}

// RecordConfidence records the confidence of the last emitted price.
func RecordConfidence(pair string, score int) {
	ConfidenceScore.WithLabelValues(pair).Set(float64(score))
}

// RecordNoData records a NoData emission.
func RecordNoData(pair, reason string) {
	NoDataTotal.WithLabelValues(pair, reason).Inc()
}

// RecordCycle records the result of one aggregation cycle.
func RecordCycle(pair, result string, duration time.Duration) {
	CyclesTotal.WithLabelValues(pair, result).Inc()
	if duration > 0 {
		CycleDuration.WithLabelValues(pair).Observe(duration.Seconds())
	}
}

// RecordBucketSealed records a sealed history bucket.
func RecordBucketSealed(pair, interval string) {
	HistoryBucketsSealedTotal.WithLabelValues(pair, interval).Inc()
}

// RecordLateTick records a rejected late tick.
func RecordLateTick(pair, interval string) {
	LateTicksTotal.WithLabelValues(pair, interval).Inc()
}

// RecordPublish records a publish attempt.
func RecordPublish(publisher, eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	PublishedEventsTotal.WithLabelValues(publisher, eventType, status).Inc()
}

// RecordSignature records a signing attempt.
func RecordSignature(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SignaturesTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
