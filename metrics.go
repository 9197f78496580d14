package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles Prometheus metrics for analysis runs and exports. It
// satisfies handlers.MetricsRecorder so the pipeline can record outcomes
// without knowing about Prometheus.
type Collector struct {
	gatherer prometheus.Gatherer

	Runs         *prometheus.CounterVec
	RunDurations prometheus.Histogram
	RunPieces    prometheus.Histogram
	Corridors    prometheus.Counter
	Exports      *prometheus.CounterVec
}

// NewCollector registers analysis metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_runs_total",
		Help: "Total number of analysis runs, labeled by outcome.",
	}, []string{"outcome"})
	runs, err := registerCounterVec(reg, runs, "coverage_runs_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_run_duration_seconds",
		Help:    "Analysis run latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	durations, err = registerHistogram(reg, durations, "coverage_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	pieces := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_run_pieces",
		Help:    "Number of coverage pieces intersecting the target per run.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})
	pieces, err = registerHistogram(reg, pieces, "coverage_run_pieces")
	if err != nil {
		return nil, err
	}

	corridors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coverage_corridors_total",
		Help: "Total number of corridors synthesized across all runs.",
	}), "coverage_corridors_total")
	if err != nil {
		return nil, err
	}

	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_exports_total",
		Help: "Total number of artifact exports, labeled by format and result.",
	}, []string{"format", "result"})
	exports, err = registerCounterVec(reg, exports, "coverage_exports_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:     gatherer,
		Runs:         runs,
		RunDurations: durations,
		RunPieces:    pieces,
		Corridors:    corridors,
		Exports:      exports,
	}, nil
}

// RecordRun counts a finished run under its outcome and observes its latency.
func (c *Collector) RecordRun(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	if c.Runs != nil {
		c.Runs.WithLabelValues(outcome).Inc()
	}
	if c.RunDurations != nil {
		c.RunDurations.Observe(elapsed.Seconds())
	}
}

// RecordPieces observes how many coverage pieces a run intersected.
func (c *Collector) RecordPieces(count int) {
	if c == nil || c.RunPieces == nil {
		return
	}
	c.RunPieces.Observe(float64(count))
}

// RecordCorridors adds the corridors a run synthesized to the running total.
func (c *Collector) RecordCorridors(count int) {
	if c == nil || c.Corridors == nil || count <= 0 {
		return
	}
	c.Corridors.Add(float64(count))
}

// RecordExport counts an artifact export by format and result.
func (c *Collector) RecordExport(format, result string) {
	if c == nil || c.Exports == nil {
		return
	}
	c.Exports.WithLabelValues(format, result).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
