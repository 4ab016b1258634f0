// Package metrics implements FlowCore's Prometheus collector registry:
// queue depth and dropped-event counters (reported by the Kafka sink),
// auto-detect outcome (reported by the TCP source), ack latency (which
// nothing in this module observes), and the resource monitor's
// goroutine-count and allocated-bytes gauges.
//
// Collectors are built with promauto against a dedicated registry
// (not the global default), with an HTTP handler exposing it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps one Prometheus registry plus the collectors FlowCore's
// core components report to, so tests can construct an isolated
// registry instead of colliding on the global default one.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth      *prometheus.GaugeVec
	QueueDropped    *prometheus.CounterVec
	AckLatency      *prometheus.HistogramVec
	DetectOutcome   *prometheus.CounterVec
	GoroutineCount  prometheus.Gauge
	AllocatedBytes  prometheus.Gauge
}

// New creates a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowcore_queue_depth",
			Help: "Current number of events queued in a durable queue.",
		}, []string{"destination"}),
		QueueDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_queue_dropped_total",
			Help: "Total number of push_tail calls that were not accepted.",
		}, []string{"destination"}),
		AckLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowcore_ack_latency_seconds",
			Help:    "Time from an event's acceptance to its terminal ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"destination", "outcome"}),
		DetectOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_protocol_detect_total",
			Help: "Outcomes of the transport auto-detect state machine.",
		}, []string{"listener", "decision"}),
		GoroutineCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowcore_goroutines",
			Help: "Current runtime.NumGoroutine() sample.",
		}),
		AllocatedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowcore_allocated_bytes",
			Help: "Process-wide sum of live Event NVTable arena allocations.",
		}),
	}
	return r
}

// Handler returns an http.Handler exposing this registry in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveQueueDepth records a durable queue's current length.
func (r *Registry) ObserveQueueDepth(destination string, depth int) {
	r.QueueDepth.WithLabelValues(destination).Set(float64(depth))
}

// IncDropped records one push_tail rejection.
func (r *Registry) IncDropped(destination string) {
	r.QueueDropped.WithLabelValues(destination).Inc()
}

// ObserveAckLatency records the seconds elapsed between acceptance and
// terminal ack for one event.
func (r *Registry) ObserveAckLatency(destination, outcome string, seconds float64) {
	r.AckLatency.WithLabelValues(destination, outcome).Observe(seconds)
}

// IncDetectOutcome records one connection's detection outcome; the TCP
// source passes the connection's final protocol state name (e.g.
// "CLOSED", "ERROR").
func (r *Registry) IncDetectOutcome(listener, decision string) {
	r.DetectOutcome.WithLabelValues(listener, decision).Inc()
}

// ObserveResourceSample records the resource monitor's periodic
// goroutine-count and allocated-bytes samples.
func (r *Registry) ObserveResourceSample(goroutines int, allocatedBytes int64) {
	r.GoroutineCount.Set(float64(goroutines))
	r.AllocatedBytes.Set(float64(allocatedBytes))
}
