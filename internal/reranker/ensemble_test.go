package reranker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightsNormalize(t *testing.T) {
	w := Weights{Dense: 1.1, Lex: 0.7, CE: 0.2} // sums to 2.0
	normalized := w.Normalize()
	require.InDelta(t, 1.0, normalized.Dense+normalized.Lex+normalized.CE, 1e-9)
	require.InDelta(t, 0.55, normalized.Dense, 1e-9)
}

func TestWeightsNormalizeNoOpWhenAlreadyOne(t *testing.T) {
	w := Weights{Dense: 0.55, Lex: 0.35, CE: 0.10}
	require.Equal(t, w, w.Normalize())
}

func TestShouldScoreRespectsZeroWeight(t *testing.T) {
	require.False(t, ShouldScore(Weights{Dense: 0.6, Lex: 0.4, CE: 0}))
	require.True(t, ShouldScore(Weights{Dense: 0.55, Lex: 0.35, CE: 0.10}))
}

func TestCombineMinMaxNormalizesWithinCandidateSet(t *testing.T) {
	candidates := []Candidate{
		{DenseScore: 0, LexScore: 5, CEScore: 0},
		{DenseScore: 10, LexScore: 0, CEScore: 1},
	}
	scores := Combine(candidates, Weights{Dense: 0.5, Lex: 0.5, CE: 0})

	require.InDelta(t, 0.5, scores[0], 1e-9) // lex=1(norm), dense=0(norm)
	require.InDelta(t, 0.5, scores[1], 1e-9) // dense=1(norm), lex=0(norm)
}

func TestCombineFlatNonZeroScoresNormalizeToOne(t *testing.T) {
	candidates := []Candidate{
		{DenseScore: 3, LexScore: 3},
		{DenseScore: 3, LexScore: 3},
	}
	scores := Combine(candidates, Weights{Dense: 1, Lex: 0, CE: 0})
	require.InDelta(t, 1, scores[0], 1e-9)
	require.InDelta(t, 1, scores[1], 1e-9)
}
