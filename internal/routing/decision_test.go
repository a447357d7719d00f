package routing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/routeengine/internal/graph"
)

func cand(cost, latency, rel float64) Candidate {
	return Candidate{Metrics: graph.Metrics{TotalCostPercent: cost, TotalLatency: latency, Reliability: rel}}
}

func TestDecisionSelectOptimal(t *testing.T) {
	d := DefaultDecision()

	cands := []Candidate{
		cand(1.0, 120, 0.90), // expensive, slow
		cand(0.2, 30, 0.99),  // dominant
		cand(0.5, 60, 0.95),
	}
	best, ok := d.SelectOptimal(cands)
	require.True(t, ok)
	assert.Equal(t, 0.2, best.Metrics.TotalCostPercent)
	assert.InDelta(t, 0, best.Score, 1e-12)
	assert.Equal(t, 1, best.Rank)

	scores := d.Scores(cands)
	// Worst on every axis scores alpha+beta+gamma.
	assert.InDelta(t, 1.0, scores[0], 1e-12)
}

func TestDecisionEmptyInput(t *testing.T) {
	_, ok := DefaultDecision().SelectOptimal(nil)
	assert.False(t, ok)
	assert.Empty(t, DefaultDecision().Rank(nil, 3))
}

func TestDecisionIdenticalCandidates(t *testing.T) {
	cands := []Candidate{cand(0.3, 45, 0.97), cand(0.3, 45, 0.97), cand(0.3, 45, 0.97)}
	for _, s := range DefaultDecision().Scores(cands) {
		assert.False(t, math.IsNaN(s) || math.IsInf(s, 0))
		// Costs and latency normalise to 0, inverted reliability to 1.
		assert.InDelta(t, 0.3, s, 1e-12)
	}
	best, ok := DefaultDecision().SelectOptimal(cands)
	require.True(t, ok)
	assert.InDelta(t, 0.3, best.Score, 1e-12)
}

func TestDecisionRank(t *testing.T) {
	cands := []Candidate{cand(1.0, 120, 0.9), cand(0.2, 30, 0.99), cand(0.5, 60, 0.95)}
	ranked := DefaultDecision().Rank(cands, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, 0.2, ranked[0].Metrics.TotalCostPercent)
	assert.Equal(t, 0.5, ranked[1].Metrics.TotalCostPercent)
	assert.Equal(t, []int{1, 2}, []int{ranked[0].Rank, ranked[1].Rank})
	assert.Len(t, DefaultDecision().Rank(cands, 0), 3)
}

func genCandidates(t *rapid.T) []Candidate {
	n := rapid.IntRange(1, 12).Draw(t, "n")
	out := make([]Candidate, n)
	for i := range out {
		out[i] = cand(
			rapid.Float64Range(0, 10).Draw(t, "cost"),
			rapid.Float64Range(0, 2000).Draw(t, "latency"),
			rapid.Float64Range(0, 1).Draw(t, "reliability"),
		)
	}
	return out
}

// independentScore recomputes a score without the bounds helpers.
func independentScore(d Decision, cands []Candidate, i int) float64 {
	minC, maxC := math.Inf(1), math.Inf(-1)
	minL, maxL := math.Inf(1), math.Inf(-1)
	minR, maxR := math.Inf(1), math.Inf(-1)
	for _, c := range cands {
		minC, maxC = math.Min(minC, c.Metrics.TotalCostPercent), math.Max(maxC, c.Metrics.TotalCostPercent)
		minL, maxL = math.Min(minL, c.Metrics.TotalLatency), math.Max(maxL, c.Metrics.TotalLatency)
		minR, maxR = math.Min(minR, c.Metrics.Reliability), math.Max(maxR, c.Metrics.Reliability)
	}
	norm := func(v, lo, hi float64) float64 {
		if hi == lo {
			return 0
		}
		return (v - lo) / (hi - lo)
	}
	m := cands[i].Metrics
	return d.Alpha*norm(m.TotalCostPercent, minC, maxC) +
		d.Beta*norm(m.TotalLatency, minL, maxL) +
		d.Gamma*(1-norm(m.Reliability, minR, maxR))
}

func TestDecisionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := Decision{
			Alpha: rapid.Float64Range(0, 1).Draw(t, "alpha"),
			Beta:  rapid.Float64Range(0, 1).Draw(t, "beta"),
			Gamma: rapid.Float64Range(0, 1).Draw(t, "gamma"),
		}
		cands := genCandidates(t)

		best, ok := d.SelectOptimal(cands)
		if !ok {
			t.Fatalf("non-empty input must select a candidate")
		}
		minScore := math.Inf(1)
		for i := range cands {
			s := independentScore(d, cands, i)
			if math.IsNaN(s) || math.IsInf(s, 0) {
				t.Fatalf("score %d not finite: %v", i, s)
			}
			minScore = math.Min(minScore, s)
		}
		if math.Abs(best.Score-minScore) > 1e-9 {
			t.Fatalf("selected score %v, minimum %v", best.Score, minScore)
		}

		k := rapid.IntRange(1, 5).Draw(t, "k")
		ranked := d.Rank(cands, k)
		if len(ranked) > k {
			t.Fatalf("rank returned %d > %d", len(ranked), k)
		}
		for i := 1; i < len(ranked); i++ {
			if ranked[i].Score < ranked[i-1].Score {
				t.Fatalf("rank not ascending at %d", i)
			}
		}
		if math.Abs(ranked[0].Score-best.Score) > 1e-12 {
			t.Fatalf("rank head %v differs from optimal %v", ranked[0].Score, best.Score)
		}
	})
}
