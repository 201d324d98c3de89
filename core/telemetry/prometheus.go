package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink exports cost and step statistics as Prometheus metrics.
type PrometheusSink struct {
	cost       prometheus.Counter
	steps      *prometheus.CounterVec
	selected   prometheus.Counter
	population prometheus.Gauge
	classStd   prometheus.Gauge
	sampleStd  prometheus.Gauge
	duration   prometheus.Histogram
}

// NewPrometheusSink registers the replay metrics on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		cost: factory.NewCounter(prometheus.CounterOpts{
			Name: "aser_cost_total",
			Help: "Accumulated model forward cost",
		}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aser_steps_total",
			Help: "Training steps by replay selection path",
		}, []string{"path"}),
		selected: factory.NewCounter(prometheus.CounterOpts{
			Name: "aser_replay_selected_total",
			Help: "Replay samples selected across all steps",
		}),
		population: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aser_buffer_population",
			Help: "Samples currently stored in the replay buffer",
		}),
		classStd: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aser_buffer_class_std",
			Help: "Standard deviation of per-class sample counts",
		}),
		sampleStd: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aser_buffer_sample_std",
			Help: "Standard deviation of per-slot replay usage",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aser_step_duration_seconds",
			Help:    "Replay selection duration per step",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
}

// AddCost implements CostSink.
func (p *PrometheusSink) AddCost(cost float64) {
	if cost > 0 {
		p.cost.Add(cost)
	}
}

// Observe implements StatsSink.
func (p *PrometheusSink) Observe(rec StepRecord) {
	p.steps.WithLabelValues(rec.Path).Inc()
	p.selected.Add(float64(rec.Selected))
	p.population.Set(float64(rec.Population))
	p.classStd.Set(rec.ClassStd)
	p.sampleStd.Set(rec.SampleStd)
	p.duration.Observe(rec.Duration.Seconds())
}
