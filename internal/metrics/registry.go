// Package metrics exposes engine counters and histograms to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

const namespace = "routeengine"

// Registry owns a private Prometheus registry and the engine's collectors.
type Registry struct {
	registry *prometheus.Registry

	RouteRequestsTotal *prometheus.CounterVec
	RouteDuration      *prometheus.HistogramVec
	RouteCandidates    prometheus.Histogram

	ExecutionsStarted   prometheus.Counter
	ExecutionsFinished  *prometheus.CounterVec
	ExecutionsActive    prometheus.Gauge
	ExecutionControl    *prometheus.CounterVec
	SegmentsSettled     *prometheus.CounterVec
	SegmentFeesTotal    *prometheus.CounterVec
	SegmentConfirmation *prometheus.HistogramVec

	SegmentsIngested prometheus.Counter
	SegmentCache     *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a Registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.initRouting()
	r.initExecution()
	r.initSegments()
	r.initHTTP()
	return r
}

func (r *Registry) initRouting() {
	f := promauto.With(r.registry)
	r.RouteRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_requests_total",
		Help:      "Route planning requests by solver and outcome",
	}, []string{"solver", "outcome"})
	r.RouteDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_duration_seconds",
		Help:      "Time spent finding candidate routes",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"solver"})
	r.RouteCandidates = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_candidates",
		Help:      "Candidate routes produced per planning request",
		Buckets:   prometheus.LinearBuckets(0, 5, 10),
	})
}

func (r *Registry) initExecution() {
	f := promauto.With(r.registry)
	r.ExecutionsStarted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_started_total",
		Help:      "Executions started",
	})
	r.ExecutionsFinished = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_finished_total",
		Help:      "Executions reaching a terminal status",
	}, []string{"status"})
	r.ExecutionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "executions_active",
		Help:      "Executions not yet terminal",
	})
	r.ExecutionControl = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "execution_control_total",
		Help:      "Control operations applied to live executions",
	}, []string{"operation"})
	r.SegmentsSettled = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_settled_total",
		Help:      "Segment executions by type and status",
	}, []string{"segment_type", "status"})
	r.SegmentFeesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segment_fees_total",
		Help:      "Fees charged by settled segments, in source units",
	}, []string{"segment_type"})
	r.SegmentConfirmation = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "segment_confirmation_minutes",
		Help:      "Simulated confirmation time per segment",
		Buckets:   []float64{1, 5, 15, 30, 60, 180, 720, 1440, 4320},
	}, []string{"segment_type"})
}

func (r *Registry) initSegments() {
	f := promauto.With(r.registry)
	r.SegmentsIngested = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_ingested_total",
		Help:      "Segments written by ingest",
	})
	r.SegmentCache = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segment_cache_lookups_total",
		Help:      "Segment snapshot lookups by layer and result",
	}, []string{"layer", "result"})
}

func (r *Registry) initHTTP() {
	f := promauto.With(r.registry)
	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "path", "status"})
	r.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and federation.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// ObserveRoute records one planning request.
func (r *Registry) ObserveRoute(solver string, candidates int, elapsed time.Duration, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case candidates == 0:
		outcome = "empty"
	}
	if solver == "" {
		solver = "none"
	}
	r.RouteRequestsTotal.WithLabelValues(solver, outcome).Inc()
	r.RouteDuration.WithLabelValues(solver).Observe(elapsed.Seconds())
	r.RouteCandidates.Observe(float64(candidates))
}

// ObserveEvent updates execution metrics from a lifecycle event.
func (r *Registry) ObserveEvent(_ context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventExecutionStarted:
		r.ExecutionsStarted.Inc()
		r.ExecutionsActive.Inc()
	case domain.EventExecutionFinished:
		r.ExecutionsActive.Dec()
		status := string(ev.Status)
		if ev.Result != nil {
			status = string(ev.Result.Status)
		}
		r.ExecutionsFinished.WithLabelValues(status).Inc()
	case domain.EventSegmentFinished:
		if s := ev.Segment; s != nil {
			typ := string(s.Type)
			r.SegmentsSettled.WithLabelValues(typ, string(s.Status)).Inc()
			if s.Status == domain.SegmentCompleted {
				r.SegmentFeesTotal.WithLabelValues(typ).Add(s.FeesPaid)
				r.SegmentConfirmation.WithLabelValues(typ).Observe(s.ConfirmationMins)
			}
		}
	case domain.EventExecutionPaused:
		r.ExecutionControl.WithLabelValues("pause").Inc()
	case domain.EventExecutionResumed:
		r.ExecutionControl.WithLabelValues("resume").Inc()
	case domain.EventExecutionCancelled:
		r.ExecutionControl.WithLabelValues("cancel").Inc()
	case domain.EventExecutionRerouted:
		r.ExecutionControl.WithLabelValues("reroute").Inc()
	}
}

// RecordIngest counts segments written by an ingest run.
func (r *Registry) RecordIngest(n int) {
	r.SegmentsIngested.Add(float64(n))
}

// RecordCacheLookup counts a snapshot lookup against layer.
func (r *Registry) RecordCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.SegmentCache.WithLabelValues(layer, result).Inc()
}

// RecordHTTPRequest records a served request.
func (r *Registry) RecordHTTPRequest(method, path, status string, d time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
