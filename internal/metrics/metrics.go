// Package metrics records registration run outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives run statistics.
type Recorder interface {
	// RunFinished records a run's outcome ("committed", "canceled", "failed")
	// and duration.
	RunFinished(direction, outcome string, d time.Duration)
	// RegionsDecoded records how many regions were traced and how many came
	// back degenerate.
	RegionsDecoded(traced, degenerate int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RunFinished(string, string, time.Duration) {}
func (Nop) RegionsDecoded(int, int)                   {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	registry   *prometheus.Registry
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	traced     prometheus.Counter
	degenerate prometheus.Counter
}

// NewPrometheus creates and registers the collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roit_runs_total",
			Help: "Number of registration runs by direction and outcome.",
		}, []string{"direction", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roit_run_duration_seconds",
			Help:    "Duration of registration runs, including time waiting for the user.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"direction"}),
		traced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roit_regions_traced_total",
			Help: "Number of regions traced from warped masks.",
		}),
		degenerate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roit_regions_degenerate_total",
			Help: "Number of traced regions whose mask was empty after warping.",
		}),
	}
	p.registry.MustRegister(p.runs, p.duration, p.traced, p.degenerate)
	return p
}

func (p *Prometheus) RunFinished(direction, outcome string, d time.Duration) {
	p.runs.WithLabelValues(direction, outcome).Inc()
	p.duration.WithLabelValues(direction).Observe(d.Seconds())
}

func (p *Prometheus) RegionsDecoded(traced, degenerate int) {
	p.traced.Add(float64(traced))
	p.degenerate.Add(float64(degenerate))
}

// Gatherer exposes the underlying registry.
func (p *Prometheus) Gatherer() prometheus.Gatherer {
	return p.registry
}

// Handler serves the collected metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
