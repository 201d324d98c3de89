// Package knnsv computes closed-form KNN Shapley contributions of candidate
// samples to the nearest-neighbor label agreement of evaluation samples.
//
// For one evaluation sample with candidates ranked by ascending distance
// (rank 1 nearest) and match[r] = 1 when the rank-r label equals the
// evaluation label, the contribution at rank r is the suffix sum
//
//	s[r] = sum_{r' >= r} factor[r'] * (match[r'] - match[r'+1]),  match[n+1] = 0
//
// with factor[r] = min(K, r) / (r*K) for r < n and factor[n] = 1/n.
package knnsv

import (
	aserrors "github.com/adalundhe/aser/core/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ValidateK checks 1 <= k < nCand. A single candidate accepts any k >= 1
// since only the base case applies.
func ValidateK(k, nCand int) error {
	if k < 1 {
		return aserrors.Newf(aserrors.KindInvalidK, "knnsv.ValidateK", "k=%d must be >= 1", k)
	}
	if nCand > 1 && k >= nCand {
		return aserrors.Newf(aserrors.KindInvalidK, "knnsv.ValidateK",
			"k=%d must be < n_cand=%d", k, nCand)
	}
	return nil
}

// Factors returns the per-rank weights for nCand candidates, indexed from
// rank 1 at position 0.
func Factors(nCand, k int) []float64 {
	factor := make([]float64, nCand)
	for i := range nCand - 1 {
		r := float64(i + 1)
		factor[i] = float64(min(k, i+1)) / (r * float64(k))
	}
	factor[nCand-1] = 1 / float64(nCand)
	return factor
}

// Scorer computes contribution matrices. It holds no state; identical
// inputs give bit-identical outputs.
type Scorer struct{}

// NewScorer creates a Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the nEval x nCand contribution matrix, indexed by original
// candidate position. order[i] must be a permutation of 0..nCand-1.
func (s *Scorer) Score(order [][]int, evalLabels, candLabels []int, k int) (*mat.Dense, error) {
	nEval, nCand := len(order), len(candLabels)
	if nCand == 0 {
		return nil, aserrors.New(aserrors.KindDegenerateCandidates, "knnsv.Score", "no candidates")
	}
	if nEval == 0 {
		return nil, aserrors.New(aserrors.KindShapeMismatch, "knnsv.Score", "no evaluation samples")
	}
	if len(evalLabels) != nEval {
		return nil, aserrors.Newf(aserrors.KindShapeMismatch, "knnsv.Score",
			"%d orders for %d evaluation labels", nEval, len(evalLabels))
	}
	if err := ValidateK(k, nCand); err != nil {
		return nil, err
	}

	factor := Factors(nCand, k)
	sv := mat.NewDense(nEval, nCand, nil)

	match := make([]float64, nCand+1)
	weighted := make([]float64, nCand)
	cumsum := make([]float64, nCand)

	for i, row := range order {
		if len(row) != nCand {
			return nil, aserrors.Newf(aserrors.KindShapeMismatch, "knnsv.Score",
				"order row %d has %d entries, want %d", i, len(row), nCand)
		}

		for r, j := range row {
			match[r] = 0
			if candLabels[j] == evalLabels[i] {
				match[r] = 1
			}
		}
		match[nCand] = 0

		floats.SubTo(weighted, match[:nCand], match[1:])
		floats.Mul(weighted, factor)

		floats.Reverse(weighted)
		floats.CumSum(cumsum, weighted)
		floats.Reverse(cumsum)

		for r, j := range row {
			sv.Set(i, j, cumsum[r])
		}
	}
	return sv, nil
}
