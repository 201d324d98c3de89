// Package selector chooses which buffered samples to replay at each training
// step by ranking candidates on cooperative minus adversarial KNN Shapley
// contributions, with a uniform-random fallback while the buffer warms up.
package selector

import (
	"context"
	"log/slog"

	aserrors "github.com/adalundhe/aser/core/errors"
	"github.com/adalundhe/aser/core/replay/distance"
	"github.com/adalundhe/aser/core/replay/features"
	"github.com/adalundhe/aser/core/replay/knnsv"
	"github.com/adalundhe/aser/core/replay/memory"
	"gonum.org/v1/gonum/mat"
)

// WarmupFactor times the candidate pool size is the population at which
// scored selection starts.
const WarmupFactor = 10

// Buffer is the part of the replay buffer that selection consumes.
type Buffer interface {
	PopulationCount() int
	SampleBalanced(pool memory.Pool, nPerClass int) memory.Batch
	SampleCandidates(size int) memory.Batch
	CommitSelection(indices []int)
	RandomSelection(count int) []int
}

// Path reports which branch produced a Selection.
type Path int

const (
	// PathSkip means no replay samples were needed.
	PathSkip Path = iota
	// PathRandom means uniform-random selection was used.
	PathRandom
	// PathScored means contribution scoring ranked the candidates.
	PathScored
)

func (p Path) String() string {
	switch p {
	case PathSkip:
		return "skip"
	case PathRandom:
		return "random"
	case PathScored:
		return "scored"
	default:
		return "unknown"
	}
}

// Selection is the outcome of one Select call.
type Selection struct {
	Path    Path
	Indices []int
	// Scores holds the combined score of each entry in Indices on PathScored.
	Scores []float64
}

// Config parameterizes a Selector.
type Config struct {
	K             int
	NSmpCls       int
	CandidateSize int
	Policy        Policy
}

// Validate rejects settings the scorer cannot honor.
func (c Config) Validate() error {
	if c.CandidateSize < 1 {
		return aserrors.Newf(aserrors.KindInvalidConfig, "selector.Config",
			"candidate_size=%d must be >= 1", c.CandidateSize)
	}
	if c.NSmpCls < 1 {
		return aserrors.Newf(aserrors.KindInvalidConfig, "selector.Config",
			"n_smp_cls=%d must be >= 1", c.NSmpCls)
	}
	if c.K < 1 || (c.CandidateSize > 1 && c.K >= c.CandidateSize) {
		return aserrors.Newf(aserrors.KindInvalidK, "selector.Config",
			"k=%d must satisfy 1 <= k < candidate_size=%d", c.K, c.CandidateSize)
	}
	return nil
}

// WarmupThreshold returns the population at which scoring is enabled.
func (c Config) WarmupThreshold() int {
	return WarmupFactor * c.CandidateSize
}

// Selector runs replay selection. It is not safe for concurrent Select calls
// against the same buffer.
type Selector struct {
	cfg       Config
	extractor features.Extractor
	ranker    *distance.Ranker
	scorer    *knnsv.Scorer
	logger    *slog.Logger
}

// New validates cfg and builds a Selector around extractor.
func New(cfg Config, extractor features.Extractor, logger *slog.Logger) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:       cfg,
		extractor: extractor,
		ranker:    distance.NewRanker(),
		scorer:    knnsv.NewScorer(),
		logger:    logger,
	}, nil
}

// Config returns the selector configuration.
func (s *Selector) Config() Config {
	return s.cfg
}

// Select picks up to memoryBatchSize buffer indices and reports them to buf.
func (s *Selector) Select(ctx context.Context, buf Buffer, memoryBatchSize int) (Selection, error) {
	if memoryBatchSize <= 0 {
		return Selection{Path: PathSkip}, nil
	}

	population := buf.PopulationCount()
	if population < s.cfg.WarmupThreshold() {
		s.logger.Debug("replay selection warming up",
			"population", population, "threshold", s.cfg.WarmupThreshold())
		return s.random(buf, memoryBatchSize), nil
	}

	adv := buf.SampleBalanced(memory.PoolStream, s.cfg.NSmpCls)
	coop := buf.SampleBalanced(memory.PoolMemory, s.cfg.NSmpCls)
	cand := buf.SampleCandidates(s.cfg.CandidateSize)
	if cand.Len() == 0 {
		s.logger.Debug("no candidates drawn, falling back to random selection")
		return s.random(buf, memoryBatchSize), nil
	}

	scores, err := s.Score(ctx, adv, coop, cand)
	if err != nil {
		return Selection{}, err
	}

	top := TopK(scores, memoryBatchSize)
	candIndices := cand.Indices()
	sel := Selection{
		Path:    PathScored,
		Indices: make([]int, len(top)),
		Scores:  make([]float64, len(top)),
	}
	for i, j := range top {
		sel.Indices[i] = candIndices[j]
		sel.Scores[i] = scores[j]
	}
	buf.CommitSelection(sel.Indices)

	s.logger.Debug("replay selection scored",
		"policy", s.cfg.Policy.String(),
		"n_adv", adv.Len(), "n_coop", coop.Len(), "n_cand", cand.Len(),
		"selected", len(sel.Indices))
	return sel, nil
}

func (s *Selector) random(buf Buffer, count int) Selection {
	return Selection{Path: PathRandom, Indices: buf.RandomSelection(count)}
}

// Score returns one combined score per candidate. Features for all three
// sets come from a single extractor call so candidate features are computed
// once and shared by both contribution matrices. An empty evaluation set
// contributes zero.
func (s *Selector) Score(ctx context.Context, adv, coop, cand memory.Batch) ([]float64, error) {
	nAdv, nCoop, nCand := adv.Len(), coop.Len(), cand.Len()
	if nCand == 0 {
		return nil, aserrors.New(aserrors.KindDegenerateCandidates, "selector.Score", "no candidates")
	}

	inputs := make([][]float32, 0, nAdv+nCoop+nCand)
	inputs = append(inputs, adv.Inputs()...)
	inputs = append(inputs, coop.Inputs()...)
	inputs = append(inputs, cand.Inputs()...)

	feats, err := s.extractor.Extract(ctx, inputs)
	if err != nil {
		return nil, aserrors.Wrap(aserrors.KindExtraction, "selector.Score", "extract features", err)
	}
	advF, coopF, candF := feats[:nAdv], feats[nAdv:nAdv+nCoop], feats[nAdv+nCoop:]

	k := s.effectiveK(nCand)
	candLabels := cand.Labels()

	svAdv, err := s.contributions(advF, adv.Labels(), candF, candLabels, k)
	if err != nil {
		return nil, err
	}
	svCoop, err := s.contributions(coopF, coop.Labels(), candF, candLabels, k)
	if err != nil {
		return nil, err
	}
	return Combine(s.cfg.Policy, svCoop, svAdv, nCand), nil
}

// effectiveK clamps K below a candidate pool that came back short.
func (s *Selector) effectiveK(nCand int) int {
	if nCand > 1 && s.cfg.K >= nCand {
		s.logger.Debug("clamping k to short candidate pool", "k", s.cfg.K, "n_cand", nCand)
		return nCand - 1
	}
	return s.cfg.K
}

func (s *Selector) contributions(evalF [][]float32, evalLabels []int, candF [][]float32, candLabels []int, k int) (*mat.Dense, error) {
	if len(evalF) == 0 {
		return nil, nil
	}
	order, err := s.ranker.Rank(evalF, candF)
	if err != nil {
		return nil, err
	}
	return s.scorer.Score(order, evalLabels, candLabels, k)
}
