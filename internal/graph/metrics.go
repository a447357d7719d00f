package graph

import "github.com/alanyoungcy/routeengine/internal/domain"

// fixedFeeScale converts a fixed fee into percent-equivalent cost units.
const fixedFeeScale = 1e-4

// Weights are the path-cost coefficients used by solvers.
type Weights struct {
	Cost        float64
	Latency     float64
	Reliability float64
}

// DefaultWeights weighs cost, latency and reliability equally.
func DefaultWeights() Weights {
	return Weights{Cost: 1, Latency: 1, Reliability: 1}
}

// EdgeCost scores a single segment; lower is better.
func (w Weights) EdgeCost(s domain.Segment) float64 {
	return w.Cost*(s.Cost.FeePercent+s.Cost.FixedFee*fixedFeeScale) +
		w.Latency*(s.Latency.Average()/60) +
		w.Reliability*(1-s.Reliability)*0.1
}

// Metrics aggregates a path's cost, latency and reliability.
type Metrics struct {
	TotalCost        float64 `json:"total_cost"`
	TotalCostPercent float64 `json:"total_cost_percent"`
	TotalFixedFee    float64 `json:"total_fixed_fee"`
	// TotalLatency is the sum of each segment's (min+max)/2, in minutes.
	TotalLatency  float64 `json:"total_latency"`
	MinLatency    float64 `json:"min_latency"`
	MaxLatency    float64 `json:"max_latency"`
	Reliability   float64 `json:"reliability"`
	CombinedScore float64 `json:"combined_score"`
	NumSegments   int     `json:"num_segments"`
}

// PathMetrics sums fees and latency along p and averages reliability. The
// path-level reliability term is not scaled by 0.1 the way EdgeCost is.
func (w Weights) PathMetrics(p Path) Metrics {
	var m Metrics
	var relSum float64
	for _, e := range p {
		s := e.Segment
		m.TotalCostPercent += s.Cost.FeePercent
		m.TotalFixedFee += s.Cost.FixedFee
		m.MinLatency += s.Latency.MinMinutes
		m.MaxLatency += s.Latency.MaxMinutes
		relSum += s.Reliability
	}
	m.NumSegments = len(p)
	if m.NumSegments > 0 {
		m.Reliability = relSum / float64(m.NumSegments)
	}
	m.TotalCost = m.TotalCostPercent + m.TotalFixedFee*fixedFeeScale
	m.TotalLatency = (m.MinLatency + m.MaxLatency) / 2
	m.CombinedScore = w.Cost*m.TotalCost +
		w.Latency*(m.TotalLatency/60) +
		w.Reliability*(1-m.Reliability)
	return m
}
