package sampler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sampler's Prometheus collectors.
type Metrics struct {
	Passes       *prometheus.CounterVec // by outcome
	Samples      *prometheus.CounterVec // by result
	PassDuration prometheus.Histogram
	LiveThreads  prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacksampler_passes_total",
				Help: "Sampling passes by outcome",
			},
			[]string{"outcome"},
		),
		Samples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacksampler_thread_samples_total",
				Help: "Per-thread sample attempts by result",
			},
			[]string{"result"},
		),
		PassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stacksampler_pass_duration_seconds",
				Help:    "Wall time of completed sampling passes",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		LiveThreads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stacksampler_live_threads",
				Help: "Threads enumerated in the most recent pass",
			},
		),
	}
}

func (m *Metrics) observe(r PassResult) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome != OutcomeCompleted {
		return
	}
	m.LiveThreads.Set(float64(r.Threads))
	m.Samples.WithLabelValues("sampled").Add(float64(r.Sampled))
	m.Samples.WithLabelValues("skipped").Add(float64(r.Threads - r.Sampled))
	m.PassDuration.Observe(r.Duration.Seconds())
}
