package entity

import (
	"sort"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
)

// rolePriority lists the (from-role, to-role) pairs tried in order when
// projecting a hyperedge into a directed (source, target) pair. The first
// pair both of whose roles are present on the edge wins.
var rolePriority = [][2]string{
	{"caller", "callee"},
	{"source", "target"},
	{"importer", "imported"},
}

// InMemoryGraph is the directed graph projection of the hypergraph: vertices
// are node identities (as decimal strings), edges carry the source
// hyperedge's confidence as weight. Built on katalvlaran/lvlath/core, which
// guarantees deterministic sorted iteration over vertices and edges.
type InMemoryGraph struct {
	g *core.Graph
	// nodeIndex is the stable node-to-index map built on the first pass of
	// from_edges, in the order nodes are first encountered under a fixed
	// edge order; this is what makes projection deterministic.
	nodeIndex map[NodeId]int
	indexNode []NodeId
	// edgeConfidence maps a core edge id back to the originating
	// hyperedge's confidence, since core.Graph's own weight field is a
	// coarser int-ish "cost" the library does not require to equal our
	// [0,1] confidence domain.
	edgeConfidence map[string]float64
	edgeSource     map[string]HyperedgeId
}

// NewInMemoryGraph constructs an empty directed, weighted, multi-edge
// in-memory graph.
func NewInMemoryGraph() *InMemoryGraph {
	return &InMemoryGraph{
		g:              core.NewGraph(core.WithDirected(true), core.WithWeighted(), core.WithMultiEdges()),
		nodeIndex:      make(map[NodeId]int),
		edgeConfidence: make(map[string]float64),
		edgeSource:     make(map[string]HyperedgeId),
	}
}

func nodeVertexID(id NodeId) string {
	return strconv.FormatInt(int64(id), 10)
}

// ProjectEdge extracts a directed (source, target) pair from a hyperedge by
// role priority, falling back to member position order (first member as
// source, second as target) when no priority role pair is present.
func ProjectEdge(h *Hyperedge) (source, target NodeId, ok bool) {
	for _, pair := range rolePriority {
		srcIDs := h.RoleNodeIDs(pair[0])
		dstIDs := h.RoleNodeIDs(pair[1])
		if len(srcIDs) > 0 && len(dstIDs) > 0 {
			return srcIDs[0], dstIDs[0], true
		}
	}
	sorted := h.SortedMembers()
	if len(sorted) >= 2 {
		return sorted[0].NodeID, sorted[1].NodeID, true
	}
	return 0, 0, false
}

// FromEdges builds the projection from a fixed-order slice of hyperedges.
// Two passes: the first collects a stable node-to-index map in edge order;
// the second adds weighted directed edges. Both passes are deterministic
// under a fixed edge order, per the projection's determinism requirement.
func FromEdges(edges []*Hyperedge) *InMemoryGraph {
	ig := NewInMemoryGraph()

	// Pass 1: stable node-to-index map.
	for _, h := range edges {
		src, dst, ok := ProjectEdge(h)
		if !ok {
			continue
		}
		ig.internIndex(src)
		ig.internIndex(dst)
	}

	// Pass 2: add weighted directed edges.
	for _, h := range edges {
		src, dst, ok := ProjectEdge(h)
		if !ok {
			continue
		}
		weight := h.Confidence
		// core's own edge weight is an int64 the projection never reads;
		// the real [0,1] confidence lives in edgeConfidence below.
		eid, err := ig.g.AddEdge(nodeVertexID(src), nodeVertexID(dst), 1)
		if err != nil {
			// Multi-edges are permitted (WithMultiEdges), so AddEdge should
			// not fail here except on malformed ids; skip defensively.
			continue
		}
		ig.edgeConfidence[eid] = weight
		ig.edgeSource[eid] = h.ID
	}

	return ig
}

func (ig *InMemoryGraph) internIndex(id NodeId) int {
	if idx, ok := ig.nodeIndex[id]; ok {
		return idx
	}
	idx := len(ig.indexNode)
	ig.nodeIndex[id] = idx
	ig.indexNode = append(ig.indexNode, id)
	return idx
}

// Nodes returns every node id participating in the projection, in stable
// first-encountered order.
func (ig *InMemoryGraph) Nodes() []NodeId {
	out := make([]NodeId, len(ig.indexNode))
	copy(out, ig.indexNode)
	return out
}

// NodeIndex returns the dense index assigned to a node id, or -1 if the
// node never appeared in an edge.
func (ig *InMemoryGraph) NodeIndex(id NodeId) int {
	if idx, ok := ig.nodeIndex[id]; ok {
		return idx
	}
	return -1
}

// OutNeighbors returns, for a node, the (neighbor, weight) pairs reachable
// by one directed hop, sorted by neighbor id for determinism.
func (ig *InMemoryGraph) OutNeighbors(id NodeId) []WeightedNeighbor {
	vid := nodeVertexID(id)
	edges, err := ig.g.Neighbors(vid)
	if err != nil {
		return nil
	}
	out := make([]WeightedNeighbor, 0, len(edges))
	for _, e := range edges {
		if e.From != vid {
			continue
		}
		toID, err := strconv.ParseInt(e.To, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, WeightedNeighbor{NodeID: NodeId(toID), Weight: ig.edgeConfidence[e.ID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// UndirectedNeighbors returns every neighbor reachable ignoring edge
// direction, used by Neighborhood subgraph filters and community detection
// (which treats Imports as undirected).
func (ig *InMemoryGraph) UndirectedNeighbors(id NodeId) []NodeId {
	vid := nodeVertexID(id)
	ids, err := ig.g.NeighborIDs(vid)
	if err != nil {
		return nil
	}
	out := make([]NodeId, 0, len(ids))
	for _, s := range ids {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, NodeId(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WeightedNeighbor is a (node, weight) pair returned by OutNeighbors.
type WeightedNeighbor struct {
	NodeID NodeId
	Weight float64
}

// EdgeCount returns the number of projected directed edges.
func (ig *InMemoryGraph) EdgeCount() int {
	return ig.g.EdgeCount()
}

// NodeCount returns the number of distinct nodes that appeared in an edge.
func (ig *InMemoryGraph) NodeCount() int {
	return len(ig.indexNode)
}

// Degree returns in, out, and undirected degree for a node.
func (ig *InMemoryGraph) Degree(id NodeId) (in, out, undirected int) {
	in, out, undirected, err := ig.g.Degree(nodeVertexID(id))
	if err != nil {
		return 0, 0, 0
	}
	return in, out, undirected
}

// AllEdges returns every projected edge as (source, target, weight, source
// hyperedge id) triples, sorted by the underlying core library's edge id
// for determinism.
func (ig *InMemoryGraph) AllEdges() []ProjectedEdge {
	raw := ig.g.Edges()
	out := make([]ProjectedEdge, 0, len(raw))
	for _, e := range raw {
		srcN, err1 := strconv.ParseInt(e.From, 10, 64)
		dstN, err2 := strconv.ParseInt(e.To, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, ProjectedEdge{
			Source:      NodeId(srcN),
			Target:      NodeId(dstN),
			Weight:      ig.edgeConfidence[e.ID],
			HyperedgeID: ig.edgeSource[e.ID],
		})
	}
	return out
}

// ProjectedEdge is one directed edge in the in-memory graph projection.
type ProjectedEdge struct {
	Source      NodeId
	Target      NodeId
	Weight      float64
	HyperedgeID HyperedgeId
}
