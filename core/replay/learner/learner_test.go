package learner

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/adalundhe/aser/core/replay/features"
	"github.com/adalundhe/aser/core/replay/memory"
	"github.com/adalundhe/aser/core/replay/selector"
	"github.com/adalundhe/aser/core/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	rng      *rand.Rand
	buf      *memory.Buffer
	learner  *Learner
	recorder *telemetry.Recorder
}

func newHarness(t *testing.T, capacity, candidateSize int) *harness {
	t.Helper()
	rng := rand.New(rand.NewPCG(5, 8))
	recorder := telemetry.NewRecorder()
	buf := memory.NewBuffer(capacity, rng, nil)

	ext := features.NewChunkedExtractor(features.NewProjectionModel(3, 6, 1), features.WithCostSink(recorder, 1))
	sel, err := selector.New(selector.Config{K: 2, NSmpCls: 2, CandidateSize: candidateSize}, ext, nil)
	require.NoError(t, err)

	return &harness{
		rng:      rng,
		buf:      buf,
		learner:  New(buf, sel, WithStats(recorder), WithRunID("test-run")),
		recorder: recorder,
	}
}

func (h *harness) stream(n int) []memory.Sample {
	out := make([]memory.Sample, n)
	for i := range out {
		label := h.rng.IntN(3)
		out[i] = memory.Sample{
			Label: label,
			Data:  []float32{float32(label) + float32(h.rng.NormFloat64()), float32(h.rng.NormFloat64()), 1},
		}
	}
	return out
}

func TestStep_EmptyBufferUsesStreamOnly(t *testing.T) {
	h := newHarness(t, 100, 5)
	stream := h.stream(4)

	batch, err := h.learner.Step(context.Background(), stream, 10)
	require.NoError(t, err)

	assert.Equal(t, 4, batch.Len())
	recs := h.recorder.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "skip", recs[0].Path)
	assert.Equal(t, "test-run", recs[0].RunID)
	assert.Zero(t, h.recorder.TotalCost())
}

func TestStep_StreamFillsBatch(t *testing.T) {
	h := newHarness(t, 100, 5)
	h.learner.Admit(h.stream(20))

	batch, err := h.learner.Step(context.Background(), h.stream(8), 6)
	require.NoError(t, err)

	assert.Equal(t, 6, batch.Len())
	for _, s := range batch.Samples {
		assert.Equal(t, memory.StreamIndex, s.Index)
	}
	assert.Equal(t, "skip", h.recorder.Records()[0].Path)
}

func TestStep_ColdStartThenScored(t *testing.T) {
	h := newHarness(t, 200, 5)
	threshold := h.learner.Selector().Config().WarmupThreshold()

	h.learner.Admit(h.stream(threshold - 1))
	batch, err := h.learner.Step(context.Background(), h.stream(4), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, batch.Len())
	assert.Equal(t, "random", h.recorder.Records()[0].Path)
	assert.Zero(t, h.recorder.TotalCost())

	h.learner.Admit(h.stream(1))
	require.Equal(t, threshold, h.buf.PopulationCount())

	batch, err = h.learner.Step(context.Background(), h.stream(4), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, batch.Len())

	recs := h.recorder.Records()
	assert.Equal(t, "scored", recs[1].Path)
	assert.Equal(t, 4, recs[1].Selected)
	assert.Positive(t, h.recorder.TotalCost())

	for _, s := range batch.Samples[:4] {
		assert.Equal(t, memory.StreamIndex, s.Index)
	}
	for _, s := range batch.Samples[4:] {
		assert.GreaterOrEqual(t, s.Index, 0)
	}
}

func TestStep_BatchClampedToAvailable(t *testing.T) {
	h := newHarness(t, 100, 5)
	h.learner.Admit(h.stream(3))

	batch, err := h.learner.Step(context.Background(), h.stream(2), 50)
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Len())
}

func TestAdmit_RespectsCapacity(t *testing.T) {
	h := newHarness(t, 10, 5)
	assert.Equal(t, 10, h.learner.Admit(h.stream(10)))
	h.learner.Admit(h.stream(50))
	assert.Equal(t, 10, h.buf.PopulationCount())
}
