// Package simulate drives replay selection over a synthetic class-incremental
// stream, standing in for a training loop.
package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/adalundhe/aser/core/config"
	"github.com/adalundhe/aser/core/replay/features"
	"github.com/adalundhe/aser/core/replay/learner"
	"github.com/adalundhe/aser/core/replay/memory"
	"github.com/adalundhe/aser/core/replay/selector"
	"github.com/adalundhe/aser/core/telemetry"
	"github.com/google/uuid"
)

// Generator emits Gaussian clusters, one per class, with classes arriving
// one after another.
type Generator struct {
	centers [][]float32
	noise   float64
	rng     *rand.Rand
}

// NewGenerator places class centers from rng.
func NewGenerator(cfg config.SimulateConfig, rng *rand.Rand) *Generator {
	centers := make([][]float32, cfg.Classes)
	for c := range centers {
		center := make([]float32, cfg.InputDim)
		for i := range center {
			center[i] = float32(rng.NormFloat64() * 3)
		}
		centers[c] = center
	}
	return &Generator{centers: centers, noise: cfg.Noise, rng: rng}
}

// Sample draws one example of label.
func (g *Generator) Sample(label int) memory.Sample {
	center := g.centers[label]
	x := make([]float32, len(center))
	for i := range x {
		x[i] = center[i] + float32(g.rng.NormFloat64()*g.noise)
	}
	return memory.Sample{Index: memory.StreamIndex, Label: label, Data: x}
}

// Stream returns perClass samples of every class, class by class, shuffled
// within each class block.
func (g *Generator) Stream(perClass int) []memory.Sample {
	out := make([]memory.Sample, 0, perClass*len(g.centers))
	for label := range g.centers {
		block := make([]memory.Sample, perClass)
		for i := range block {
			block[i] = g.Sample(label)
		}
		g.rng.Shuffle(len(block), func(i, j int) { block[i], block[j] = block[j], block[i] })
		out = append(out, block...)
	}
	return out
}

// Options carries the collaborators of a Runner.
type Options struct {
	Logger *slog.Logger
	Cost   telemetry.CostSink
	Stats  telemetry.StatsSink
	RunID  string
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Steps    int
	Policy   string
	Paths    map[string]int
	Cost     float64
	Final    memory.Stats
	Admitted int
	// Metrics holds the final Prometheus values when metrics are enabled.
	Metrics map[string]float64 `json:",omitempty"`
}

// Runner owns the buffer, extractor and learner of one run.
type Runner struct {
	cfg       *config.Config
	rng       *rand.Rand
	buf       *memory.Buffer
	extractor *features.ChunkedExtractor
	learner   *learner.Learner
	recorder  *telemetry.Recorder
	logger    *slog.Logger
	runID     string
}

// BuildSelector turns replay settings into a selector.
func BuildSelector(rc config.ReplayConfig, extractor features.Extractor, logger *slog.Logger) (*selector.Selector, error) {
	return selector.New(selector.Config{
		K:             rc.K,
		NSmpCls:       rc.NSmpCls,
		CandidateSize: rc.CandidateSize,
		Policy:        selector.ParsePolicy(rc.Policy),
	}, extractor, logger)
}

// NewRunner validates cfg and wires a run. All randomness comes from one
// generator seeded with cfg.Replay.Seed.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	seed := cfg.Replay.Seed
	rng := rand.New(rand.NewPCG(seed, seed+1))
	recorder := telemetry.NewRecorder()

	model := features.NewProjectionModel(cfg.Simulate.InputDim, cfg.Simulate.FeatureDim, seed)
	extractor := features.NewChunkedExtractor(model,
		features.WithChunkSize(cfg.Replay.ChunkSize),
		features.WithWorkers(cfg.Replay.ExtractWorkers),
		features.WithCostSink(telemetry.MultiCost(recorder, opts.Cost), cfg.Simulate.ForwardCost),
	)

	sel, err := BuildSelector(cfg.Replay, extractor, logger)
	if err != nil {
		return nil, err
	}

	buf := memory.NewBuffer(cfg.Replay.MemorySize, rng, logger)
	l := learner.New(buf, sel,
		learner.WithStats(telemetry.MultiStats(recorder, opts.Stats)),
		learner.WithLogger(logger),
		learner.WithRunID(runID),
	)

	return &Runner{
		cfg:       cfg,
		rng:       rng,
		buf:       buf,
		extractor: extractor,
		learner:   l,
		recorder:  recorder,
		logger:    logger.With("run_id", runID),
		runID:     runID,
	}, nil
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	return r.runID
}

// ApplyConfig swaps in a selector built from new replay settings. It takes
// effect at the next step.
func (r *Runner) ApplyConfig(cfg *config.Config) error {
	sel, err := BuildSelector(cfg.Replay, r.extractor, r.logger)
	if err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	r.learner.SetSelector(sel)
	r.logger.Info("selector updated", "policy", sel.Config().Policy.String(), "k", sel.Config().K)
	return nil
}

// Run feeds the synthetic stream through the learner in stream-batch steps,
// admitting each batch after it was used. steps <= 0 consumes the whole
// stream.
func (r *Runner) Run(ctx context.Context, steps int) (Summary, error) {
	sc := r.cfg.Simulate
	gen := NewGenerator(sc, r.rng)
	stream := gen.Stream(sc.SamplesPerClass)
	streamBatch := max(sc.StreamBatch, 1)

	done, admitted := 0, 0
	for start := 0; start < len(stream); start += streamBatch {
		if steps > 0 && done >= steps {
			break
		}
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}

		batch := stream[start:min(start+streamBatch, len(stream))]
		if _, err := r.learner.Step(ctx, batch, r.cfg.Replay.BatchSize); err != nil {
			return Summary{}, fmt.Errorf("step %d: %w", done+1, err)
		}
		admitted += r.learner.Admit(batch)
		done++
	}

	summary := Summary{
		RunID:    r.runID,
		Steps:    done,
		Policy:   r.learner.Selector().Config().Policy.String(),
		Paths:    r.recorder.PathCounts(),
		Cost:     r.recorder.TotalCost(),
		Final:    r.buf.Stats(),
		Admitted: admitted,
	}
	r.logger.Info("run finished",
		"steps", summary.Steps,
		"population", summary.Final.Population,
		"scored", summary.Paths[selector.PathScored.String()],
		"random", summary.Paths[selector.PathRandom.String()])
	return summary, nil
}
