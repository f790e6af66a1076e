// Package metrics counts interchange activity on a private Prometheus
// registry. Metrics are exported by writing the node_exporter textfile
// format; nothing is served over the network.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/openclaw/interchange/pkg/breaker"
)

const namespace = "interchange"

// Write outcomes.
const (
	WriteWritten     = "written"
	WriteUnchanged   = "unchanged"
	WriteInvalid     = "invalid"
	WriteLockTimeout = "lock_timeout"
	WriteError       = "error"
)

// Metrics holds the collectors and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	writes       *prometheus.CounterVec
	lockWait     prometheus.Histogram
	rebuilds     *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writer",
				Name:      "writes_total",
				Help:      "Document writes by outcome.",
			},
			[]string{"result"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "wait_seconds",
				Help:      "Time spent acquiring a path lock.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "rebuilds_total",
				Help:      "Watcher-driven index rebuilds by skill.",
			},
			[]string{"skill"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit state: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"name"},
		),
	}
	m.registry.MustRegister(m.writes, m.lockWait, m.rebuilds, m.breakerState)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveWrite counts one write with the given outcome.
func (m *Metrics) ObserveWrite(result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
}

// ObserveLockWait records how long a lock acquisition took.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ObserveRebuild counts a rebuild of skill's index.
func (m *Metrics) ObserveRebuild(skill string) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(skill).Inc()
}

// BreakerStateChanged matches breaker.Options.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to breaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// WriteCounts gathers the writes counter keyed by result label.
func (m *Metrics) WriteCounts() (map[string]float64, error) {
	out := make(map[string]float64)
	if m == nil {
		return out, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range families {
		if mf.GetName() != namespace+"_writer_writes_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			out[labelValue(metric, "result")] = metric.GetCounter().GetValue()
		}
	}
	return out, nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// WriteTextfile atomically writes every metric to path in the text
// exposition format read by node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
