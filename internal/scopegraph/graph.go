// Package scopegraph implements name resolution over a scope graph: push
// nodes are references, pop nodes are definitions, and a valid path between
// them (respecting a symbol push/pop stack) is a resolution. Cross-file
// references jump through import/export scope nodes into a global export
// index built incrementally as files are added.
package scopegraph

import (
	"path/filepath"
)

// NodeId is a graph-unique scope node identity, assigned by the combined
// Graph on AddFileGraph, not by the caller.
type NodeId uint64

// NodeKind discriminates scope graph node roles.
type NodeKind string

const (
	KindRoot         NodeKind = "Root"
	KindScope        NodeKind = "Scope"
	KindPushSymbol   NodeKind = "PushSymbol"
	KindPopSymbol    NodeKind = "PopSymbol"
	KindExportScope  NodeKind = "ExportScope"
	KindImportScope  NodeKind = "ImportScope"
)

// TextRange is a byte-offset source span, carried by definition and
// reference nodes for reporting.
type TextRange struct {
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
}

// Node is one scope graph vertex. Symbol is populated for PushSymbol and
// PopSymbol kinds only.
type Node struct {
	ID         NodeId
	Kind       NodeKind
	Symbol     string
	FilePath   string
	Span       *TextRange
	SymbolKind string // e.g. "Function", "Type" — free-form, echoed to ResolvedReference
}

// Edge is a directed connection between two scope nodes. Precedence allows
// a future resolver to prefer lower-precedence paths when several are
// valid; path-stitching here does not yet rank by it.
type Edge struct {
	Source     NodeId
	Target     NodeId
	Precedence uint8
}

// FileScopeGraph is one file's local contribution before it is merged into
// the combined Graph. Node ids are local to the file graph; AddFileGraph
// remaps them to global ids.
type FileScopeGraph struct {
	FilePath    string
	Nodes       []Node
	Edges       []Edge
	RootScope   NodeId
	ExportNodes []NodeId
	ImportNodes []NodeId
}

// Graph is the combined, incrementally-built scope graph for a project.
type Graph struct {
	nodes     map[NodeId]Node
	edgesFrom map[NodeId][]Edge
	fileNodes map[string]map[NodeId]bool
	exports   map[string][]NodeId // symbol -> exported PopSymbol node ids
	nextID    NodeId
}

// NewGraph returns an empty combined scope graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[NodeId]Node),
		edgesFrom: make(map[NodeId][]Edge),
		fileNodes: make(map[string]map[NodeId]bool),
		exports:   make(map[string][]NodeId),
	}
}

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.edgesFrom {
		n += len(edges)
	}
	return n
}

// AddFileGraph merges a file's local subgraph into the combined graph,
// remapping local node ids to newly allocated global ones, and returns that
// mapping so the caller can translate its own bookkeeping (e.g. AST spans)
// if it tracked nodes by local id.
func (g *Graph) AddFileGraph(fg *FileScopeGraph) map[NodeId]NodeId {
	idMap := make(map[NodeId]NodeId, len(fg.Nodes))
	exportSet := make(map[NodeId]bool, len(fg.ExportNodes))
	for _, id := range fg.ExportNodes {
		exportSet[id] = true
	}

	file := filepath.Clean(fg.FilePath)
	fileSet := make(map[NodeId]bool, len(fg.Nodes))

	for _, n := range fg.Nodes {
		newID := g.nextID
		g.nextID++
		idMap[n.ID] = newID

		remapped := n
		remapped.ID = newID
		remapped.FilePath = file
		g.nodes[newID] = remapped
		fileSet[newID] = true

		if n.Kind == KindPopSymbol && exportSet[n.ID] {
			g.exports[n.Symbol] = append(g.exports[n.Symbol], newID)
		}
	}
	g.fileNodes[file] = fileSet

	for _, e := range fg.Edges {
		newSrc, okSrc := idMap[e.Source]
		newTgt, okTgt := idMap[e.Target]
		if !okSrc || !okTgt {
			continue
		}
		g.edgesFrom[newSrc] = append(g.edgesFrom[newSrc], Edge{Source: newSrc, Target: newTgt, Precedence: e.Precedence})
	}

	return idMap
}

// RemoveFile deletes every node and edge belonging to path, along with any
// export index entries they contributed. Re-adding the file's (possibly
// changed) subgraph afterward is the supported update path — node ids are
// never reused across a remove/re-add cycle.
func (g *Graph) RemoveFile(path string) {
	file := filepath.Clean(path)
	nodeIDs, ok := g.fileNodes[file]
	if !ok {
		return
	}
	for id := range nodeIDs {
		if n, ok := g.nodes[id]; ok && n.Kind == KindPopSymbol {
			exports := g.exports[n.Symbol]
			kept := exports[:0]
			for _, eid := range exports {
				if eid != id {
					kept = append(kept, eid)
				}
			}
			if len(kept) == 0 {
				delete(g.exports, n.Symbol)
			} else {
				g.exports[n.Symbol] = kept
			}
		}
		delete(g.nodes, id)
		delete(g.edgesFrom, id)
	}
	for src, edges := range g.edgesFrom {
		kept := edges[:0]
		for _, e := range edges {
			if !nodeIDs[e.Target] {
				kept = append(kept, e)
			}
		}
		g.edgesFrom[src] = kept
	}
	delete(g.fileNodes, file)
}

// GetNode returns a node by id, or false if it doesn't exist (after
// removal, or an id from an unrelated graph).
func (g *Graph) GetNode(id NodeId) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// EdgesFrom returns the outgoing edges of a node, or nil if it has none.
func (g *Graph) EdgesFrom(id NodeId) []Edge {
	return g.edgesFrom[id]
}

// PushNodes returns every reference (PushSymbol) node in the graph.
func (g *Graph) PushNodes() []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Kind == KindPushSymbol {
			out = append(out, n)
		}
	}
	return out
}

// DefinitionsFor returns every PopSymbol node matching symbol.
func (g *Graph) DefinitionsFor(symbol string) []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Kind == KindPopSymbol && n.Symbol == symbol {
			out = append(out, n)
		}
	}
	return out
}
