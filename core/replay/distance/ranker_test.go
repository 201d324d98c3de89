package distance

import (
	"math/rand/v2"
	"testing"

	aserrors "github.com/adalundhe/aser/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	vs := make([][]float32, n)
	for i := range vs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vs[i] = v
	}
	return vs
}

func naiveSquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

func TestSquaredDistances_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	eval := randomVectors(rng, 7, 16)
	cand := randomVectors(rng, 11, 16)

	m, err := SquaredDistances(eval, cand)
	require.NoError(t, err)
	assert.Equal(t, 7, m.Rows)
	assert.Equal(t, 11, m.Cols)

	for i := range eval {
		for j := range cand {
			assert.InEpsilon(t, naiveSquaredL2(eval[i], cand[j]), float64(m.Row(i)[j]), 1e-5)
		}
	}
}

func TestSquaredDistances_LargeNormsKeepSmallGaps(t *testing.T) {
	eval := [][]float32{{1000, 0}, {-5000, 2000}}
	cand := [][]float32{{1000, 0.3}, {1000, 0.1}, {-5000, 2000.2}, {-5000.05, 2000}}

	m, err := SquaredDistances(eval, cand)
	require.NoError(t, err)

	for i := range eval {
		for j := range cand {
			assert.InEpsilon(t, naiveSquaredL2(eval[i], cand[j]), float64(m.Row(i)[j]), 1e-4,
				"eval %d cand %d", i, j)
		}
	}
	assert.InDelta(t, 0.09, float64(m.Row(0)[0]), 1e-3)
	assert.InDelta(t, 0.01, float64(m.Row(0)[1]), 1e-3)

	order, err := NewRanker().Rank(eval, cand)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, order[0][:2])
	assert.Equal(t, []int{3, 2}, order[1][:2])
}

func TestRanker_LargeNormOrderMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 9))
	center := make([]float32, 32)
	for j := range center {
		center[j] = 500 + float32(rng.NormFloat64())*100
	}
	jitter := func(scale float64) []float32 {
		v := make([]float32, len(center))
		for j := range v {
			v[j] = center[j] + float32(rng.NormFloat64()*scale)
		}
		return v
	}

	eval := [][]float32{jitter(0.01), jitter(0.01)}
	cand := make([][]float32, 12)
	for j := range cand {
		cand[j] = jitter(0.01 * float64(j+1))
	}

	order, err := NewRanker().Rank(eval, cand)
	require.NoError(t, err)
	for i, row := range order {
		for r := 1; r < len(row); r++ {
			assert.LessOrEqual(t,
				naiveSquaredL2(eval[i], cand[row[r-1]]),
				naiveSquaredL2(eval[i], cand[row[r]])+1e-6,
				"row %d rank %d", i, r)
		}
	}
}

func TestRanker_RankIsSortedPermutation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	eval := randomVectors(rng, 20, 8)
	cand := randomVectors(rng, 50, 8)

	order, err := NewRanker().Rank(eval, cand)
	require.NoError(t, err)
	require.Len(t, order, len(eval))

	dist, err := SquaredDistances(eval, cand)
	require.NoError(t, err)

	for i, row := range order {
		require.Len(t, row, len(cand))
		seen := make([]bool, len(cand))
		for _, j := range row {
			require.False(t, seen[j], "row %d repeats candidate %d", i, j)
			seen[j] = true
		}
		for r := 1; r < len(row); r++ {
			assert.LessOrEqual(t, dist.Row(i)[row[r-1]], dist.Row(i)[row[r]])
		}
	}
}

func TestRanker_KnownOrder(t *testing.T) {
	eval := [][]float32{{0, 0}, {10, 0}}
	cand := [][]float32{{3, 0}, {1, 0}, {9, 0}, {-2, 0}}

	order, err := NewRanker().Rank(eval, cand)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 0, 2}, order[0])
	assert.Equal(t, []int{2, 0, 1, 3}, order[1])
}

func TestRanker_TiesKeepCandidateOrder(t *testing.T) {
	eval := [][]float32{{0, 0}}
	cand := [][]float32{{1, 1}, {2, 2}, {1, 1}, {0, 0}, {1, 1}}

	order, err := NewRanker().Rank(eval, cand)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0, 2, 4, 1}, order[0])
}

func TestRanker_DimensionMismatch(t *testing.T) {
	_, err := NewRanker().Rank([][]float32{{1, 2}}, [][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, aserrors.ErrShapeMismatch)
}

func TestRanker_EmptyInputs(t *testing.T) {
	order, err := NewRanker().Rank(nil, [][]float32{{1}})
	require.NoError(t, err)
	assert.Empty(t, order)

	order, err = NewRanker().Rank([][]float32{{1}}, nil)
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Empty(t, order[0])
}
