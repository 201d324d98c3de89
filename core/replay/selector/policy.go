package selector

import (
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Policy combines cooperative and adversarial contributions into one score
// per candidate.
type Policy int

const (
	// MeanDifference scores mean_i coop[i][j] - mean_i adv[i][j].
	MeanDifference Policy = iota
	// ExtremalDifference scores max_i coop[i][j] - min_i adv[i][j].
	ExtremalDifference
)

// ParsePolicy maps a configuration name to a Policy. "asv" selects
// ExtremalDifference; every other name, including "asvm" and "", selects
// MeanDifference.
func ParsePolicy(name string) Policy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "asv":
		return ExtremalDifference
	default:
		return MeanDifference
	}
}

func (p Policy) String() string {
	switch p {
	case ExtremalDifference:
		return "asv"
	default:
		return "asvm"
	}
}

// Combine reduces both contribution matrices over their evaluation rows.
// A nil matrix contributes zero to every candidate. Both matrices, when
// present, must have nCand columns.
func Combine(policy Policy, coop, adv *mat.Dense, nCand int) []float64 {
	scores := make([]float64, nCand)

	for j := range nCand {
		var reward, penalty float64
		if coop != nil {
			reward = reduce(policy, mat.Col(nil, j, coop), true)
		}
		if adv != nil {
			penalty = reduce(policy, mat.Col(nil, j, adv), false)
		}
		scores[j] = reward - penalty
	}
	return scores
}

func reduce(policy Policy, col []float64, cooperative bool) float64 {
	switch policy {
	case ExtremalDifference:
		if cooperative {
			return floats.Max(col)
		}
		return floats.Min(col)
	default:
		return stat.Mean(col, nil)
	}
}

// Rank returns candidate positions by descending score. Ties keep the
// original candidate order; NaN scores sort last.
func Rank(scores []float64) []int {
	keys := make([]float64, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) {
			keys[i] = math.Inf(1)
			continue
		}
		keys[i] = -s
	}
	inds := make([]int, len(scores))
	floats.ArgsortStable(keys, inds)
	return inds
}

// TopK returns the first k entries of Rank(scores).
func TopK(scores []float64, k int) []int {
	order := Rank(scores)
	return slices.Clip(order[:min(max(k, 0), len(order))])
}
