package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

func seg(t domain.SegmentType, from, fromNet, to, toNet string, fee float64) domain.Segment {
	return domain.Segment{
		Type:        t,
		FromAsset:   from,
		FromNetwork: fromNet,
		ToAsset:     to,
		ToNetwork:   toNet,
		Cost:        domain.SegmentCost{FeePercent: fee},
		Latency:     domain.SegmentLatency{MinMinutes: 5, MaxMinutes: 15},
		Reliability: 0.95,
		Provider:    "p-" + from + "-" + to,
	}
}

func TestNodeIdentity(t *testing.T) {
	fx := seg(domain.SegmentFX, "USD", "swift", "EUR", "sepa", 0.1)
	assert.Equal(t, NodeID("USD"), FromNode(fx))
	assert.Equal(t, NodeID("EUR"), ToNode(fx))

	bank := seg(domain.SegmentBankRail, "EUR", "sepa", "EUR", "target2", 0)
	assert.Equal(t, NodeID("EUR"), FromNode(bank))
	assert.Equal(t, NodeID("EUR"), ToNode(bank))

	bridge := seg(domain.SegmentBridge, "USDC", "ethereum", "USDC", "polygon", 0.05)
	assert.Equal(t, NodeID("USDC@ethereum"), FromNode(bridge))
	assert.Equal(t, NodeID("USDC@polygon"), ToNode(bridge))

	swap := seg(domain.SegmentCrypto, "ETH", "", "USDC", "", 0.3)
	assert.Equal(t, NodeID("ETH"), FromNode(swap))
	assert.Equal(t, "USDC", ToNode(swap).Asset())
	assert.Equal(t, "polygon", NodeID("USDC@polygon").Network())
}

func TestBuild(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		g := Build(nil)
		assert.Zero(t, g.NodeCount())
		assert.Zero(t, g.EdgeCount())
		assert.Empty(t, g.FindPaths(domain.RouteQuery{FromAsset: "USD", ToAsset: "EUR"}))
	})

	t.Run("parallel providers share a node pair", func(t *testing.T) {
		a := seg(domain.SegmentFX, "USD", "", "EUR", "", 0.1)
		b := seg(domain.SegmentFX, "USD", "", "EUR", "", 0.2)
		b.Provider = "other"
		g := Build([]domain.Segment{a, b})
		require.Len(t, g.Edges("USD", "EUR"), 2)
		assert.Equal(t, 2, g.NodeCount())
		assert.Equal(t, []NodeID{"EUR"}, g.Neighbors("USD"))
		assert.Equal(t, []NodeID{"EUR", "USD"}, g.Nodes())
	})
}

func rampGraph() *Graph {
	return Build([]domain.Segment{
		seg(domain.SegmentOnRamp, "USD", "", "USDC", "ethereum", 0.5),
		seg(domain.SegmentBridge, "USDC", "ethereum", "USDC", "polygon", 0.05),
		seg(domain.SegmentOffRamp, "USDC", "polygon", "EUR", "", 0.4),
		seg(domain.SegmentOffRamp, "USDC", "ethereum", "EUR", "", 0.6),
		seg(domain.SegmentFX, "USD", "", "EUR", "", 0.9),
		seg(domain.SegmentFX, "EUR", "", "USD", "", 0.9),
	})
}

func TestFindPaths(t *testing.T) {
	g := rampGraph()

	paths := g.FindPaths(domain.RouteQuery{FromAsset: "USD", ToAsset: "EUR"})
	require.Len(t, paths, 3)
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, p.Key())
	}
	assert.ElementsMatch(t, []string{"0>1>2", "0>3", "4"}, keys)

	t.Run("hop bound", func(t *testing.T) {
		paths := g.FindPaths(domain.RouteQuery{FromAsset: "USD", ToAsset: "EUR", MaxHops: 2})
		for _, p := range paths {
			assert.LessOrEqual(t, len(p), 2)
		}
		assert.Len(t, paths, 2)
	})

	t.Run("bare destination matches qualified node", func(t *testing.T) {
		paths := g.FindPaths(domain.RouteQuery{FromAsset: "USD", ToAsset: "USDC"})
		require.Len(t, paths, 1)
		assert.Equal(t, "0", paths[0].Key())
	})

	t.Run("qualified destination", func(t *testing.T) {
		paths := g.FindPaths(domain.RouteQuery{FromAsset: "USD", ToAsset: "USDC", ToNetwork: "polygon"})
		// The bare "USDC" end also matches USDC@ethereum, which is reached first.
		require.Len(t, paths, 1)
		assert.Equal(t, "0", paths[0].Key())
	})

	t.Run("qualified source falls back to bare asset", func(t *testing.T) {
		paths := g.FindPaths(domain.RouteQuery{FromAsset: "USD", FromNetwork: "swift", ToAsset: "EUR"})
		assert.Len(t, paths, 3)
	})

	t.Run("unknown source", func(t *testing.T) {
		assert.Empty(t, g.FindPaths(domain.RouteQuery{FromAsset: "JPY", ToAsset: "EUR"}))
	})

	t.Run("no repeated nodes", func(t *testing.T) {
		for _, p := range g.FindPaths(domain.RouteQuery{FromAsset: "EUR", ToAsset: "USDC", ToNetwork: "polygon", MaxHops: 6}) {
			seen := map[NodeID]bool{}
			for _, n := range p.Nodes() {
				assert.False(t, seen[n], "node %s repeated in %s", n, p.Key())
				seen[n] = true
			}
		}
	})
}

func TestMetrics(t *testing.T) {
	w := DefaultWeights()
	s := domain.Segment{
		Type:        domain.SegmentFX,
		Cost:        domain.SegmentCost{FeePercent: 0.5, FixedFee: 10},
		Latency:     domain.SegmentLatency{MinMinutes: 30, MaxMinutes: 90},
		Reliability: 0.9,
	}
	// 0.5 + 10e-4 + 60/60 + 0.1*0.1
	assert.InDelta(t, 1.511, w.EdgeCost(s), 1e-9)

	noMax := s
	noMax.Latency = domain.SegmentLatency{MinMinutes: 30}
	assert.InDelta(t, 0.5+0.001+0.5+0.01, w.EdgeCost(noMax), 1e-9)

	p := Path{{ID: 0, Segment: s}, {ID: 1, Segment: noMax}}
	m := w.PathMetrics(p)
	assert.InDelta(t, 1.0, m.TotalCostPercent, 1e-9)
	assert.InDelta(t, 20, m.TotalFixedFee, 1e-9)
	assert.InDelta(t, 1.002, m.TotalCost, 1e-9)
	assert.InDelta(t, 60, m.MinLatency, 1e-9)
	assert.InDelta(t, 90, m.MaxLatency, 1e-9)
	assert.InDelta(t, 75, m.TotalLatency, 1e-9)
	assert.InDelta(t, 0.9, m.Reliability, 1e-9)
	assert.Equal(t, 2, m.NumSegments)
	assert.InDelta(t, 1.002+1.25+0.1, m.CombinedScore, 1e-9)
	assert.Equal(t, "0>1", p.Key())
}
