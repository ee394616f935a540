package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	flagCacheHits   prometheus.Counter
	flagCacheMisses prometheus.Counter
	submissions     prometheus.Counter
	entriesWritten  prometheus.Counter
	notifications   *prometheus.CounterVec
}

// NewMetricsService registers the collectors used across the service layer.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache read operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total summary cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total summary cache misses",
	})

	flagCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_flag_cache_hits_total",
		Help: "Total feature flag cache hits",
	})

	flagCacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_flag_cache_misses_total",
		Help: "Total feature flag cache misses",
	})

	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_submissions_total",
		Help: "Total attendance submission batches accepted",
	})

	entriesWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_entries_written_total",
		Help: "Total attendance records upserted",
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threshold_notifications_total",
		Help: "Threshold notifications by dispatch outcome",
	}, []string{"outcome"})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite,
		cacheHits, cacheMisses, flagCacheHits, flagCacheMisses,
		submissions, entriesWritten, notifications)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		flagCacheHits:   flagCacheHits,
		flagCacheMisses: flagCacheMisses,
		submissions:     submissions,
		entriesWritten:  entriesWritten,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// RecordCacheOperation records a summary cache read.
func (s *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	s.cacheLatency.Observe(duration.Seconds())
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}

// ObserveCacheWrite records a summary cache write.
func (s *MetricsService) ObserveCacheWrite(duration time.Duration) {
	s.cacheWrite.Observe(duration.Seconds())
}

// RecordFlagCacheHit records a feature flag cache lookup.
func (s *MetricsService) RecordFlagCacheHit(hit bool) {
	if hit {
		s.flagCacheHits.Inc()
	} else {
		s.flagCacheMisses.Inc()
	}
}

// RecordAttendanceSubmission records an accepted batch and its entry count.
func (s *MetricsService) RecordAttendanceSubmission(entries int) {
	s.submissions.Inc()
	s.entriesWritten.Add(float64(entries))
}

// RecordNotificationDispatch records a threshold notification attempt.
func (s *MetricsService) RecordNotificationDispatch(ok bool) {
	outcome := "delivered"
	if !ok {
		outcome = "failed"
	}
	s.notifications.WithLabelValues(outcome).Inc()
}
