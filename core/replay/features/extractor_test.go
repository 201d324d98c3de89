package features

import (
	"context"
	"errors"
	"sync"
	"testing"

	aserrors "github.com/adalundhe/aser/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoModel returns each input's first element doubled, and records chunk sizes.
type echoModel struct {
	mu     sync.Mutex
	chunks []int
	failAt int
	short  bool
}

func (m *echoModel) Dim() int { return 1 }

func (m *echoModel) Features(_ context.Context, batch [][]float32) ([][]float32, error) {
	m.mu.Lock()
	m.chunks = append(m.chunks, len(batch))
	call := len(m.chunks)
	m.mu.Unlock()

	if m.failAt > 0 && call == m.failAt {
		return nil, errors.New("device lost")
	}
	out := make([][]float32, len(batch))
	for i, x := range batch {
		out[i] = []float32{x[0] * 2}
	}
	if m.short {
		return out[:len(out)-1], nil
	}
	return out, nil
}

type costCounter struct {
	mu    sync.Mutex
	total float64
}

func (c *costCounter) AddCost(v float64) {
	c.mu.Lock()
	c.total += v
	c.mu.Unlock()
}

func inputs(n int) [][]float32 {
	xs := make([][]float32, n)
	for i := range xs {
		xs[i] = []float32{float32(i)}
	}
	return xs
}

func TestChunkedExtractor_ChunksAndOrder(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		chunkSize  int
		wantChunks []int
	}{
		{"single short chunk", 10, 64, []int{10}},
		{"exact multiple", 128, 64, []int{64, 64}},
		{"short tail", 130, 64, []int{64, 64, 2}},
		{"custom chunk", 7, 3, []int{3, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &echoModel{}
			e := NewChunkedExtractor(model, WithChunkSize(tt.chunkSize))

			out, err := e.Extract(context.Background(), inputs(tt.n))
			require.NoError(t, err)
			require.Len(t, out, tt.n)
			for i, f := range out {
				assert.Equal(t, float32(2*i), f[0])
			}
			assert.Equal(t, tt.wantChunks, model.chunks)
		})
	}
}

func TestChunkedExtractor_ParallelPreservesOrder(t *testing.T) {
	model := &echoModel{}
	e := NewChunkedExtractor(model, WithChunkSize(5), WithWorkers(4))

	out, err := e.Extract(context.Background(), inputs(53))
	require.NoError(t, err)
	require.Len(t, out, 53)
	for i, f := range out {
		assert.Equal(t, float32(2*i), f[0])
	}
	assert.Len(t, model.chunks, 11)
}

func TestChunkedExtractor_Empty(t *testing.T) {
	model := &echoModel{}
	e := NewChunkedExtractor(model)

	out, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, model.chunks)
}

func TestChunkedExtractor_ReportsCost(t *testing.T) {
	sink := &costCounter{}
	e := NewChunkedExtractor(&echoModel{}, WithCostSink(sink, 0.5))

	_, err := e.Extract(context.Background(), inputs(100))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, sink.total, 1e-9)
}

func TestChunkedExtractor_ModelFailure(t *testing.T) {
	e := NewChunkedExtractor(&echoModel{failAt: 2}, WithChunkSize(4))

	_, err := e.Extract(context.Background(), inputs(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, aserrors.ErrExtraction)
	assert.False(t, aserrors.IsRecoverable(err))
}

func TestChunkedExtractor_ShortOutput(t *testing.T) {
	e := NewChunkedExtractor(&echoModel{short: true})

	_, err := e.Extract(context.Background(), inputs(3))
	assert.ErrorIs(t, err, aserrors.ErrExtraction)
}

func TestProjectionModel_Deterministic(t *testing.T) {
	a := NewProjectionModel(8, 4, 42)
	b := NewProjectionModel(8, 4, 42)
	x := [][]float32{{1, -2, 3, 0.5, 0, 1, 1, -1}}

	fa, err := a.Features(context.Background(), x)
	require.NoError(t, err)
	fb, err := b.Features(context.Background(), x)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.Equal(t, 4, a.Dim())
	for _, v := range fa[0] {
		assert.GreaterOrEqual(t, v, float32(0))
	}
}

func TestProjectionModel_RejectsWrongWidth(t *testing.T) {
	m := NewProjectionModel(8, 4, 1)

	_, err := m.Features(context.Background(), [][]float32{{1, 2}})
	assert.ErrorIs(t, err, aserrors.ErrShapeMismatch)
}
