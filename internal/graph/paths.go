package graph

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// DefaultMaxHops bounds path length when a query does not set one.
const DefaultMaxHops = 5

// Path is an ordered, non-empty walk of edges with no repeated node.
type Path []Edge

// Segments returns the segments along the path.
func (p Path) Segments() []domain.Segment {
	out := make([]domain.Segment, len(p))
	for i, e := range p {
		out[i] = e.Segment
	}
	return out
}

// Nodes returns the visited nodes, source first.
func (p Path) Nodes() []NodeID {
	if len(p) == 0 {
		return nil
	}
	out := make([]NodeID, 0, len(p)+1)
	out = append(out, p[0].From)
	for _, e := range p {
		out = append(out, e.To)
	}
	return out
}

// Key identifies the path by its edge ids; two paths with the same key
// use exactly the same segments.
func (p Path) Key() string {
	var b strings.Builder
	for i, e := range p {
		if i > 0 {
			b.WriteByte('>')
		}
		b.WriteString(strconv.Itoa(e.ID))
	}
	return b.String()
}

// Endpoints returns the candidate nodes for an asset: the network-qualified
// form first when a network is given, then the bare asset.
func Endpoints(asset, network string) []NodeID {
	if network == "" {
		return []NodeID{NodeID(asset)}
	}
	return []NodeID{NodeID(asset + "@" + network), NodeID(asset)}
}

// Reaches reports whether n satisfies any of the destination ends. A bare
// end matches every network-qualified form of the same asset.
func Reaches(n NodeID, ends []NodeID) bool {
	for _, end := range ends {
		if n == end || strings.HasPrefix(string(n), string(end)+"@") {
			return true
		}
	}
	return false
}

func hopLimit(maxHops int) int {
	if maxHops <= 0 {
		return DefaultMaxHops
	}
	return maxHops
}

// FindPaths enumerates every path from the query source to its destination
// with at most q.MaxHops edges. It does no cost comparison.
func (g *Graph) FindPaths(q domain.RouteQuery) []Path {
	maxHops := hopLimit(q.MaxHops)
	ends := Endpoints(q.ToAsset, q.ToNetwork)

	var (
		paths []Path
		seen  = make(map[string]struct{})
		walk  []Edge
	)

	var dfs func(current NodeID, depth int, visited map[NodeID]struct{})
	dfs = func(current NodeID, depth int, visited map[NodeID]struct{}) {
		if depth > maxHops {
			return
		}
		if Reaches(current, ends) {
			if len(walk) > 0 {
				p := append(Path(nil), walk...)
				if _, dup := seen[p.Key()]; !dup {
					seen[p.Key()] = struct{}{}
					paths = append(paths, p)
				}
			}
			return
		}
		if _, ok := visited[current]; ok {
			return
		}
		// Visited is copied, never shared upward, so siblings may reuse nodes.
		branch := make(map[NodeID]struct{}, len(visited)+1)
		for n := range visited {
			branch[n] = struct{}{}
		}
		branch[current] = struct{}{}

		for _, e := range g.Out(current) {
			walk = append(walk, e)
			dfs(e.To, depth+1, branch)
			walk = walk[:len(walk)-1]
		}
	}

	for _, start := range Endpoints(q.FromAsset, q.FromNetwork) {
		if !g.HasNode(start) {
			continue
		}
		dfs(start, 0, map[NodeID]struct{}{})
	}
	return paths
}
