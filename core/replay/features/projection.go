package features

import (
	"context"
	"math"
	"math/rand/v2"

	aserrors "github.com/adalundhe/aser/core/errors"
	"github.com/viterin/vek/vek32"
)

// ProjectionModel is a fixed random-projection network with a ReLU head.
// Its weights never change after construction, so Features is safe for
// concurrent use.
type ProjectionModel struct {
	weights  [][]float32
	inputDim int
}

// NewProjectionModel draws a dim x inputDim Gaussian projection from seed,
// scaled by 1/sqrt(inputDim).
func NewProjectionModel(inputDim, dim int, seed uint64) *ProjectionModel {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	scale := float32(1 / math.Sqrt(float64(max(inputDim, 1))))

	weights := make([][]float32, dim)
	for i := range weights {
		row := make([]float32, inputDim)
		for j := range row {
			row[j] = float32(rng.NormFloat64())
		}
		vek32.MulNumber_Inplace(row, scale)
		weights[i] = row
	}
	return &ProjectionModel{weights: weights, inputDim: inputDim}
}

// Dim returns the output width.
func (m *ProjectionModel) Dim() int {
	return len(m.weights)
}

// InputDim returns the expected raw sample width.
func (m *ProjectionModel) InputDim() int {
	return m.inputDim
}

// Features projects each input and applies ReLU.
func (m *ProjectionModel) Features(ctx context.Context, batch [][]float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(batch))
	for i, x := range batch {
		if len(x) != m.inputDim {
			return nil, aserrors.Newf(aserrors.KindShapeMismatch, "features.ProjectionModel",
				"input %d has width %d, want %d", i, len(x), m.inputDim)
		}
		f := make([]float32, len(m.weights))
		for j, w := range m.weights {
			f[j] = max(vek32.Dot(w, x), 0)
		}
		out[i] = f
	}
	return out, nil
}
