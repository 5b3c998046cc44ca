package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the decision
// engine and the HTTP surface.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	decisionTotal   *prometheus.CounterVec
	decisionLatency prometheus.Histogram
	promotionTotal  *prometheus.CounterVec
}

// NewMetricsService registers the collectors.
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

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_decisions_total",
		Help: "Registration decisions by outcome",
	}, []string{"outcome"})

	decisionLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "registration_decision_duration_seconds",
		Help:    "End-to-end duration of registration decisions",
		Buckets: prometheus.DefBuckets,
	})

	promotionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlist promotions by mode",
	}, []string{"mode"})

	registry.MustRegister(requestDuration, requestTotal, decisionTotal, decisionLatency, promotionTotal)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		decisionTotal:   decisionTotal,
		decisionLatency: decisionLatency,
		promotionTotal:  promotionTotal,
	}
}

// Handler exposes the scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// ObserveDecision records one registration decision and its latency.
func (s *MetricsService) ObserveDecision(outcome string, duration time.Duration) {
	s.decisionTotal.WithLabelValues(outcome).Inc()
	s.decisionLatency.Observe(duration.Seconds())
}

// CountPromotion records a waitlist promotion, FIFO or forced.
func (s *MetricsService) CountPromotion(forced bool) {
	mode := "fifo"
	if forced {
		mode = "forced"
	}
	s.promotionTotal.WithLabelValues(mode).Inc()
}
