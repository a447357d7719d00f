package routing

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/graph"
)

// SolverKShortest is the name of KShortestSolver.
const SolverKShortest = "k-shortest"

// KShortestSolver runs a best-first search per objective and returns the k
// cheapest simple paths under each edge weighting. For additive objectives
// the order is exact; average reliability is searched through summed
// unreliability and then re-sorted on the true metric.
type KShortestSolver struct {
	// Budget caps label expansions per search; zero means 200000.
	Budget int
}

var _ Solver = (*KShortestSolver)(nil)

// Name implements Solver.
func (s *KShortestSolver) Name() string { return SolverKShortest }

type edgeWeight func(w graph.Weights, seg domain.Segment) float64

var searchWeights = []edgeWeight{
	func(_ graph.Weights, seg domain.Segment) float64 {
		return seg.Cost.FeePercent + seg.Cost.FixedFee*1e-4
	},
	func(_ graph.Weights, seg domain.Segment) float64 {
		return (seg.Latency.MinMinutes + seg.Latency.MaxMinutes) / 2
	},
	func(_ graph.Weights, seg domain.Segment) float64 {
		return 1 - seg.Reliability
	},
	func(w graph.Weights, seg domain.Segment) float64 {
		return w.EdgeCost(seg)
	},
}

// SolveMultiObjective implements Solver.
func (s *KShortestSolver) SolveMultiObjective(ctx context.Context, p Problem) ([]Candidate, error) {
	k := maxPaths(p.MaxPaths)
	orderings := make([][]Candidate, len(searchWeights))
	found := false
	for i, weight := range searchWeights {
		paths, err := s.search(ctx, p, k, weight)
		if err != nil {
			return nil, err
		}
		cands := make([]Candidate, len(paths))
		for j, path := range paths {
			cands[j] = Candidate{Path: path, Metrics: p.Weights.PathMetrics(path)}
		}
		orderings[i] = sortBy(cands, objectives[i])
		found = found || len(cands) > 0
	}
	if !found {
		return nil, nil
	}
	return collectDiverse(orderings, k), nil
}

// label is a partial path in the search frontier, linked to its parent.
type label struct {
	node   graph.NodeID
	cost   float64
	hops   int
	edge   graph.Edge
	parent *label
	seq    int
}

func (l *label) onPath(n graph.NodeID) bool {
	for cur := l; cur != nil; cur = cur.parent {
		if cur.node == n {
			return true
		}
	}
	return false
}

func (l *label) path() graph.Path {
	out := make(graph.Path, l.hops)
	for cur := l; cur.parent != nil; cur = cur.parent {
		out[cur.hops-1] = cur.edge
	}
	return out
}

type frontier []*label

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].cost != f[j].cost {
		return f[i].cost < f[j].cost
	}
	if f[i].hops != f[j].hops {
		return f[i].hops < f[j].hops
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(*label)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}

// search pops partial paths in non-decreasing cost order, so the first k
// that reach the destination are the k cheapest.
func (s *KShortestSolver) search(ctx context.Context, p Problem, k int, weight edgeWeight) ([]graph.Path, error) {
	budget := s.Budget
	if budget <= 0 {
		budget = 200_000
	}
	maxHops := p.Query.MaxHops
	if maxHops <= 0 {
		maxHops = graph.DefaultMaxHops
	}
	ends := graph.Endpoints(p.Query.ToAsset, p.Query.ToNetwork)

	var (
		pq   frontier
		seq  int
		out  []graph.Path
		seen = make(map[string]struct{})
	)
	for _, start := range graph.Endpoints(p.Query.FromAsset, p.Query.FromNetwork) {
		if p.Graph.HasNode(start) {
			heap.Push(&pq, &label{node: start, seq: seq})
			seq++
		}
	}

	for expansions := 0; pq.Len() > 0; expansions++ {
		if expansions >= budget {
			if len(out) > 0 {
				return out, nil
			}
			return nil, fmt.Errorf("%w: k-shortest search budget %d exhausted", domain.ErrSolverFailure, budget)
		}
		if expansions%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cur := heap.Pop(&pq).(*label)
		if graph.Reaches(cur.node, ends) {
			if cur.hops > 0 {
				path := cur.path()
				if _, dup := seen[path.Key()]; !dup {
					seen[path.Key()] = struct{}{}
					out = append(out, path)
					if len(out) >= k {
						return out, nil
					}
				}
			}
			continue
		}
		if cur.hops >= maxHops {
			continue
		}
		for _, e := range p.Graph.Out(cur.node) {
			if cur.onPath(e.To) {
				continue
			}
			heap.Push(&pq, &label{
				node:   e.To,
				cost:   cur.cost + weight(p.Weights, e.Segment),
				hops:   cur.hops + 1,
				edge:   e,
				parent: cur,
				seq:    seq,
			})
			seq++
		}
	}
	return out, nil
}
