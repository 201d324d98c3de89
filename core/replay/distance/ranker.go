// Package distance orders candidate feature vectors by squared Euclidean
// distance to each evaluation feature vector.
package distance

import (
	aserrors "github.com/adalundhe/aser/core/errors"
	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/floats"
)

// Matrix is a dense row-major nEval x nCand distance table.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// Row returns the distances from evaluation sample i to every candidate.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

func checkDims(op string, vectors [][]float32, dim int) error {
	for i, v := range vectors {
		if len(v) != dim {
			return aserrors.Newf(aserrors.KindShapeMismatch, op,
				"vector %d has width %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// SquaredDistances computes every ||e_i - c_j||^2 from the elementwise
// difference, so near neighbours of large-norm vectors keep distinct
// distances.
func SquaredDistances(eval, cand [][]float32) (Matrix, error) {
	nEval, nCand := len(eval), len(cand)
	if nEval == 0 || nCand == 0 {
		return Matrix{Rows: nEval, Cols: nCand}, nil
	}

	dim := len(eval[0])
	if err := checkDims("distance.SquaredDistances", eval, dim); err != nil {
		return Matrix{}, err
	}
	if err := checkDims("distance.SquaredDistances", cand, dim); err != nil {
		return Matrix{}, err
	}

	out := make([]float32, nEval*nCand)
	if dim == 0 {
		return Matrix{Rows: nEval, Cols: nCand, Data: out}, nil
	}

	diff := make([]float32, dim)
	for i, e := range eval {
		row := out[i*nCand : (i+1)*nCand]
		for j, c := range cand {
			vek32.Sub_Into(diff, e, c)
			row[j] = vek32.Dot(diff, diff)
		}
	}
	return Matrix{Rows: nEval, Cols: nCand, Data: out}, nil
}

// Ranker produces per-evaluation-row candidate orderings.
type Ranker struct{}

// NewRanker creates a Ranker.
func NewRanker() *Ranker {
	return &Ranker{}
}

// Rank returns, for every evaluation vector, the candidate indices sorted by
// ascending squared distance. Exact ties keep original candidate order.
func (r *Ranker) Rank(eval, cand [][]float32) ([][]int, error) {
	dist, err := SquaredDistances(eval, cand)
	if err != nil {
		return nil, err
	}
	return ArgsortRows(dist), nil
}

// ArgsortRows stably argsorts each row of m.
func ArgsortRows(m Matrix) [][]int {
	order := make([][]int, m.Rows)
	scratch := make([]float64, m.Cols)
	for i := range m.Rows {
		for j, d := range m.Row(i) {
			scratch[j] = float64(d)
		}
		inds := make([]int, m.Cols)
		floats.ArgsortStable(scratch, inds)
		order[i] = inds
	}
	return order
}
