// Package learner is the training-loop facing entry point of replay
// selection: it turns a stream batch into a ready-to-train batch.
package learner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/aser/core/replay/memory"
	"github.com/adalundhe/aser/core/replay/selector"
	"github.com/adalundhe/aser/core/telemetry"
)

// Learner couples a buffer with a selector. Step calls are serialized: a new
// selection never starts before the previous batch has been assembled.
type Learner struct {
	mu     sync.Mutex
	buf    *memory.Buffer
	sel    *selector.Selector
	stats  telemetry.StatsSink
	logger *slog.Logger
	runID  string
	step   int
}

// Option configures a Learner.
type Option func(*Learner)

// WithStats reports a StepRecord per Step to sink.
func WithStats(sink telemetry.StatsSink) Option {
	return func(l *Learner) {
		l.stats = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Learner) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRunID tags StepRecords with id.
func WithRunID(id string) Option {
	return func(l *Learner) {
		l.runID = id
	}
}

// New creates a Learner.
func New(buf *memory.Buffer, sel *selector.Selector, opts ...Option) *Learner {
	l := &Learner{
		buf:    buf,
		sel:    sel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetSelector swaps the selector used by subsequent steps.
func (l *Learner) SetSelector(sel *selector.Selector) {
	l.mu.Lock()
	l.sel = sel
	l.mu.Unlock()
}

// Selector returns the active selector.
func (l *Learner) Selector() *selector.Selector {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sel
}

// Step returns the stream samples followed by the replay samples chosen for
// this step. batchSize is clamped to what the stream and buffer can supply;
// when the stream alone fills it, no replay selection happens.
func (l *Learner) Step(ctx context.Context, stream []memory.Sample, batchSize int) (memory.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	l.step++
	l.buf.RegisterStream(stream)

	streamSize := len(stream)
	batchSize = min(batchSize, streamSize+l.buf.PopulationCount())
	memoryBatchSize := batchSize - streamSize

	sel, err := l.sel.Select(ctx, l.buf, memoryBatchSize)
	if err != nil {
		return memory.Batch{}, err
	}

	var batch memory.Batch
	if sel.Path == selector.PathSkip {
		batch = l.buf.StreamBatch(batchSize)
	} else {
		batch = l.buf.TrainBatch()
	}

	l.report(sel, streamSize, time.Since(start))
	return batch, nil
}

func (l *Learner) report(sel selector.Selection, streamSize int, elapsed time.Duration) {
	st := l.buf.Stats()
	l.logger.Debug("replay step",
		"step", l.step,
		"path", sel.Path.String(),
		"stream", streamSize,
		"selected", len(sel.Indices),
		"population", st.Population,
		"class_std", st.ClassStd)

	if l.stats == nil {
		return
	}
	l.stats.Observe(telemetry.StepRecord{
		RunID:      l.runID,
		Step:       l.step,
		Path:       sel.Path.String(),
		Stream:     streamSize,
		Selected:   len(sel.Indices),
		Population: st.Population,
		ClassStd:   st.ClassStd,
		SampleStd:  st.SampleStd,
		Duration:   elapsed,
	})
}

// Admit offers the stream samples to the buffer after training on them.
func (l *Learner) Admit(stream []memory.Sample) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	admitted := 0
	for _, s := range stream {
		if _, ok := l.buf.Admit(s); ok {
			admitted++
		}
	}
	return admitted
}
