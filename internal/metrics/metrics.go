// Package metrics exposes dispatcher lifecycle counters as Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/threaddispatch/internal/dispatch"
)

// Metrics holds the Prometheus collectors for one dispatcher.
type Metrics struct {
	registry *prometheus.Registry

	JobsDispatched prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsPanicked   prometheus.Counter
	JobsInFlight   prometheus.Gauge
	JobLatency     prometheus.Histogram
}

var _ dispatch.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on a private registry.
func New(namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = "threaddispatch"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs dispatched to the pool",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_completed_total",
			Help:      "Total number of job bodies that returned or panicked",
		}),
		JobsPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_panicked_total",
			Help:      "Total number of job bodies that panicked",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_in_flight",
			Help:      "Jobs dispatched but not yet finished",
		}),
		JobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "job_duration_seconds",
			Help:      "Histogram of job body execution time",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.JobsDispatched,
		m.JobsCompleted,
		m.JobsPanicked,
		m.JobsInFlight,
		m.JobLatency,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot is the collectors' current values as read back from the registry.
type Snapshot struct {
	Dispatched  uint64        `json:"dispatched"`
	Completed   uint64        `json:"completed"`
	Panicked    uint64        `json:"panicked"`
	InFlight    int64         `json:"in_flight"`
	MeanLatency time.Duration `json:"mean_latency_ns"`
}

// Snapshot gathers the registry, the same way a /metrics scrape would.
func (m *Metrics) Snapshot() (Snapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Snapshot{}, fmt.Errorf("gather metrics: %w", err)
	}

	var s Snapshot
	for _, f := range families {
		if len(f.GetMetric()) == 0 {
			continue
		}
		metric := f.GetMetric()[0]
		switch name := f.GetName(); {
		case strings.HasSuffix(name, "_jobs_dispatched_total"):
			s.Dispatched = uint64(metric.GetCounter().GetValue())
		case strings.HasSuffix(name, "_jobs_completed_total"):
			s.Completed = uint64(metric.GetCounter().GetValue())
		case strings.HasSuffix(name, "_jobs_panicked_total"):
			s.Panicked = uint64(metric.GetCounter().GetValue())
		case strings.HasSuffix(name, "_jobs_in_flight"):
			s.InFlight = int64(metric.GetGauge().GetValue())
		case strings.HasSuffix(name, "_job_duration_seconds"):
			if h := metric.GetHistogram(); h.GetSampleCount() > 0 {
				mean := h.GetSampleSum() / float64(h.GetSampleCount())
				s.MeanLatency = time.Duration(mean * float64(time.Second))
			}
		}
	}
	return s, nil
}

func (m *Metrics) JobDispatched(dispatch.JobID) {
	m.JobsDispatched.Inc()
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobStarted(dispatch.JobID) {}

func (m *Metrics) JobFinished(_ dispatch.JobID, elapsed time.Duration, err error) {
	m.JobsCompleted.Inc()
	m.JobsInFlight.Dec()
	m.JobLatency.Observe(elapsed.Seconds())
	var pe *dispatch.PanicError
	if errors.As(err, &pe) {
		m.JobsPanicked.Inc()
	}
}
