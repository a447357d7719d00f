// Package graph turns a flat segment collection into a directed multigraph
// and enumerates hop-bounded, cycle-free paths over it.
package graph

import (
	"sort"
	"strings"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// NodeID identifies a graph vertex: an asset, optionally qualified by a
// network as "asset@network".
type NodeID string

// Asset returns the asset part of the node.
func (n NodeID) Asset() string {
	asset, _, _ := strings.Cut(string(n), "@")
	return asset
}

// Network returns the network qualifier, or "" for bare-asset nodes.
func (n NodeID) Network() string {
	_, network, _ := strings.Cut(string(n), "@")
	return network
}

// Node builds the identity of one segment endpoint. FX and bank rail
// endpoints are network agnostic; every other type is qualified by its
// network when one is set.
func Node(t domain.SegmentType, asset, network string) NodeID {
	if t.NetworkAgnostic() || network == "" {
		return NodeID(asset)
	}
	return NodeID(asset + "@" + network)
}

// FromNode returns the source node of s.
func FromNode(s domain.Segment) NodeID { return Node(s.Type, s.FromAsset, s.FromNetwork) }

// ToNode returns the destination node of s.
func ToNode(s domain.Segment) NodeID { return Node(s.Type, s.ToAsset, s.ToNetwork) }

// Edge is one segment placed in the graph. ID is the segment's position in
// the build input and is unique within a Graph.
type Edge struct {
	ID      int
	From    NodeID
	To      NodeID
	Segment domain.Segment
}

// Graph is a read-only multigraph: several providers may connect the same
// pair of nodes.
type Graph struct {
	adj   map[NodeID]map[NodeID][]Edge
	out   map[NodeID][]Edge
	nodes map[NodeID]struct{}
	edges []Edge
}

// Build creates a graph from segments. An empty input yields an empty graph.
func Build(segments []domain.Segment) *Graph {
	g := &Graph{
		adj:   make(map[NodeID]map[NodeID][]Edge),
		out:   make(map[NodeID][]Edge),
		nodes: make(map[NodeID]struct{}),
		edges: make([]Edge, 0, len(segments)),
	}
	for i, seg := range segments {
		e := Edge{ID: i, From: FromNode(seg), To: ToNode(seg), Segment: seg}
		g.nodes[e.From] = struct{}{}
		g.nodes[e.To] = struct{}{}
		if g.adj[e.From] == nil {
			g.adj[e.From] = make(map[NodeID][]Edge)
		}
		g.adj[e.From][e.To] = append(g.adj[e.From][e.To], e)
		g.out[e.From] = append(g.out[e.From], e)
		g.edges = append(g.edges, e)
	}
	return g
}

// HasNode reports whether n is a vertex of g.
func (g *Graph) HasNode(n NodeID) bool {
	_, ok := g.nodes[n]
	return ok
}

// Nodes returns every vertex in lexical order.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns the parallel edges between from and to.
func (g *Graph) Edges(from, to NodeID) []Edge {
	return g.adj[from][to]
}

// Out returns the outgoing edges of n in insertion order.
func (g *Graph) Out(n NodeID) []Edge {
	return g.out[n]
}

// Neighbors returns the distinct successors of n in lexical order.
func (g *Graph) Neighbors(n NodeID) []NodeID {
	out := make([]NodeID, 0, len(g.adj[n]))
	for to := range g.adj[n] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeCount returns the number of vertices.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges, counting parallel edges separately.
func (g *Graph) EdgeCount() int { return len(g.edges) }
