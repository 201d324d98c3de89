// Package features adapts a feature-producing model into a chunked, read-only
// extractor used by replay scoring.
package features

import (
	"context"
	"fmt"

	aserrors "github.com/adalundhe/aser/core/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize bounds how many samples reach the model in one forward pass.
const DefaultChunkSize = 64

// Model is the external network. Features must not mutate model parameters
// and must return one fixed-width vector per input, in input order.
type Model interface {
	Features(ctx context.Context, batch [][]float32) ([][]float32, error)
	Dim() int
}

// Extractor maps raw samples to feature vectors.
type Extractor interface {
	Extract(ctx context.Context, inputs [][]float32) ([][]float32, error)
	Dim() int
}

// CostSink receives extractor accounting. Optional.
type CostSink interface {
	AddCost(cost float64)
}

// ChunkedExtractor feeds a Model fixed-size chunks and concatenates the
// outputs in input order.
type ChunkedExtractor struct {
	model       Model
	chunkSize   int
	workers     int
	forwardCost float64
	cost        CostSink
}

// Option configures a ChunkedExtractor.
type Option func(*ChunkedExtractor)

// WithChunkSize overrides DefaultChunkSize. Non-positive values are ignored.
func WithChunkSize(n int) Option {
	return func(e *ChunkedExtractor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithWorkers lets up to n chunks run concurrently. The Model must then be
// safe for concurrent Features calls.
func WithWorkers(n int) Option {
	return func(e *ChunkedExtractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCostSink reports forwardCost per extracted sample to sink.
func WithCostSink(sink CostSink, forwardCost float64) Option {
	return func(e *ChunkedExtractor) {
		e.cost = sink
		e.forwardCost = forwardCost
	}
}

// NewChunkedExtractor wraps model.
func NewChunkedExtractor(model Model, opts ...Option) *ChunkedExtractor {
	e := &ChunkedExtractor{
		model:     model,
		chunkSize: DefaultChunkSize,
		workers:   1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dim returns the model's feature width.
func (e *ChunkedExtractor) Dim() int {
	return e.model.Dim()
}

// ChunkSize returns the configured chunk size.
func (e *ChunkedExtractor) ChunkSize() int {
	return e.chunkSize
}

// Extract runs the model over inputs in chunks of ChunkSize; the last chunk
// may be shorter.
func (e *ChunkedExtractor) Extract(ctx context.Context, inputs [][]float32) ([][]float32, error) {
	n := len(inputs)
	if n == 0 {
		return nil, nil
	}

	numChunks := n/e.chunkSize + btoi(n%e.chunkSize > 0)
	out := make([][]float32, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for c := range numChunks {
		start := c * e.chunkSize
		end := min(start+e.chunkSize, n)
		g.Go(func() error {
			return e.extractChunk(gctx, inputs[start:end], out[start:end], c)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if e.cost != nil {
		e.cost.AddCost(float64(n) * e.forwardCost)
	}
	return out, nil
}

func (e *ChunkedExtractor) extractChunk(ctx context.Context, chunk, dst [][]float32, idx int) error {
	feats, err := e.model.Features(ctx, chunk)
	if err != nil {
		return aserrors.Wrap(aserrors.KindExtraction, "features.Extract", fmt.Sprintf("chunk %d", idx), err)
	}
	if len(feats) != len(chunk) {
		return aserrors.Newf(aserrors.KindExtraction, "features.Extract",
			"chunk %d: model returned %d vectors for %d inputs", idx, len(feats), len(chunk))
	}
	dim := e.model.Dim()
	for i, f := range feats {
		if len(f) != dim {
			return aserrors.Newf(aserrors.KindShapeMismatch, "features.Extract",
				"chunk %d: vector %d has width %d, want %d", idx, i, len(f), dim)
		}
	}
	copy(dst, feats)
	return nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
