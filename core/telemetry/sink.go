// Package telemetry provides the cost-accounting and statistics sinks that
// replay selection and the training loop report into.
package telemetry

import (
	"sync"
	"time"
)

// StepRecord describes one training step's replay selection.
type StepRecord struct {
	RunID      string
	Step       int
	Path       string
	Stream     int
	Selected   int
	Population int
	ClassStd   float64
	SampleStd  float64
	Duration   time.Duration
}

// CostSink accumulates extractor and training cost.
type CostSink interface {
	AddCost(cost float64)
}

// StatsSink receives one record per training step.
type StatsSink interface {
	Observe(rec StepRecord)
}

// Recorder is an in-memory CostSink and StatsSink.
type Recorder struct {
	mu      sync.Mutex
	cost    float64
	records []StepRecord
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// AddCost implements CostSink.
func (r *Recorder) AddCost(cost float64) {
	r.mu.Lock()
	r.cost += cost
	r.mu.Unlock()
}

// Observe implements StatsSink.
func (r *Recorder) Observe(rec StepRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// TotalCost returns the accumulated cost.
func (r *Recorder) TotalCost() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cost
}

// Records returns a copy of every observed record.
func (r *Recorder) Records() []StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepRecord, len(r.records))
	copy(out, r.records)
	return out
}

// PathCounts tallies observed records by selection path.
func (r *Recorder) PathCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range r.records {
		counts[rec.Path]++
	}
	return counts
}

type fanoutCost []CostSink

func (f fanoutCost) AddCost(cost float64) {
	for _, s := range f {
		s.AddCost(cost)
	}
}

type fanoutStats []StatsSink

func (f fanoutStats) Observe(rec StepRecord) {
	for _, s := range f {
		s.Observe(rec)
	}
}

// MultiCost forwards to every non-nil sink.
func MultiCost(sinks ...CostSink) CostSink {
	var out fanoutCost
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// MultiStats forwards to every non-nil sink.
func MultiStats(sinks ...StatsSink) StatsSink {
	var out fanoutStats
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
