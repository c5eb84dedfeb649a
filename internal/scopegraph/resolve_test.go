package scopegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSingleFileGraph models:
//
//	scope { push(foo) ; scope { pop(foo) } }
//
// i.e. a reference to foo resolved by a definition in an enclosing scope's
// sibling, connected directly by an edge.
func buildSingleFileGraph() (*Graph, NodeId, NodeId) {
	g := NewGraph()
	fg := &FileScopeGraph{
		FilePath: "a.go",
		Nodes: []Node{
			{ID: 1, Kind: KindRoot},
			{ID: 2, Kind: KindPushSymbol, Symbol: "foo"},
			{ID: 3, Kind: KindPopSymbol, Symbol: "foo", SymbolKind: "Function"},
		},
		Edges: []Edge{
			{Source: 1, Target: 2},
			{Source: 2, Target: 3},
		},
		RootScope: 1,
	}
	idMap := g.AddFileGraph(fg)
	return g, idMap[2], idMap[3]
}

func TestResolveSingleFile(t *testing.T) {
	g, push, pop := buildSingleFileGraph()

	refs := g.ResolveAll()
	require.Len(t, refs, 1)
	assert.Equal(t, push, refs[0].ReferenceNode)
	assert.Equal(t, pop, refs[0].DefinitionNode)
	assert.Equal(t, "foo", refs[0].Symbol)
	assert.Equal(t, 1.0, refs[0].Confidence)
}

func TestResolveNoMatchOnMismatchedSymbol(t *testing.T) {
	g := NewGraph()
	fg := &FileScopeGraph{
		FilePath: "a.go",
		Nodes: []Node{
			{ID: 1, Kind: KindRoot},
			{ID: 2, Kind: KindPushSymbol, Symbol: "foo"},
			{ID: 3, Kind: KindPopSymbol, Symbol: "bar"},
		},
		Edges: []Edge{
			{Source: 1, Target: 2},
			{Source: 2, Target: 3},
		},
		RootScope: 1,
	}
	g.AddFileGraph(fg)

	refs := g.ResolveAll()
	assert.Empty(t, refs)
}

func TestResolveCrossFile(t *testing.T) {
	g := NewGraph()

	// Importing file: root -> import scope -> push(bar)
	importer := &FileScopeGraph{
		FilePath: "importer.go",
		Nodes: []Node{
			{ID: 1, Kind: KindRoot},
			{ID: 2, Kind: KindImportScope},
			{ID: 3, Kind: KindPushSymbol, Symbol: "bar"},
		},
		Edges: []Edge{
			{Source: 1, Target: 2},
			{Source: 2, Target: 3},
		},
		RootScope: 1,
	}
	importIDs := g.AddFileGraph(importer)
	pushID := importIDs[3]
	importScopeID := importIDs[2]

	// The push node must be able to reach the import scope node to trigger
	// the cross-file jump; wire an edge so the BFS visits the import scope
	// after pushing (push -> importScope), mirroring a reference that
	// resolves through an open import.
	g.edgesFrom[pushID] = append(g.edgesFrom[pushID], Edge{Source: pushID, Target: importScopeID})

	// Exporting file: root -> export scope -> pop(bar)
	exporter := &FileScopeGraph{
		FilePath: "exporter.go",
		Nodes: []Node{
			{ID: 10, Kind: KindRoot},
			{ID: 11, Kind: KindExportScope},
			{ID: 12, Kind: KindPopSymbol, Symbol: "bar", SymbolKind: "Function"},
		},
		Edges: []Edge{
			{Source: 10, Target: 11},
			{Source: 11, Target: 12},
		},
		RootScope:   10,
		ExportNodes: []NodeId{12},
	}
	exportIDs := g.AddFileGraph(exporter)
	popID := exportIDs[12]

	refs := g.ResolveAll()
	require.Len(t, refs, 1)
	assert.Equal(t, pushID, refs[0].ReferenceNode)
	assert.Equal(t, popID, refs[0].DefinitionNode)
	assert.Equal(t, "importer.go", refs[0].ReferenceFile)
	assert.Equal(t, "exporter.go", refs[0].DefinitionFile)
}

func TestResolveMultipleDefinitionsSameSymbol(t *testing.T) {
	g := NewGraph()

	importer := &FileScopeGraph{
		FilePath: "importer.go",
		Nodes: []Node{
			{ID: 1, Kind: KindRoot},
			{ID: 2, Kind: KindImportScope},
			{ID: 3, Kind: KindPushSymbol, Symbol: "shared"},
		},
		Edges: []Edge{
			{Source: 1, Target: 2},
			{Source: 2, Target: 3},
		},
		RootScope: 1,
	}
	importIDs := g.AddFileGraph(importer)
	pushID := importIDs[3]
	importScopeID := importIDs[2]
	g.edgesFrom[pushID] = append(g.edgesFrom[pushID], Edge{Source: pushID, Target: importScopeID})

	exporterA := &FileScopeGraph{
		FilePath: "a.go",
		Nodes: []Node{
			{ID: 10, Kind: KindRoot},
			{ID: 11, Kind: KindExportScope},
			{ID: 12, Kind: KindPopSymbol, Symbol: "shared"},
		},
		Edges:       []Edge{{Source: 10, Target: 11}, {Source: 11, Target: 12}},
		RootScope:   10,
		ExportNodes: []NodeId{12},
	}
	idsA := g.AddFileGraph(exporterA)

	exporterB := &FileScopeGraph{
		FilePath: "b.go",
		Nodes: []Node{
			{ID: 20, Kind: KindRoot},
			{ID: 21, Kind: KindExportScope},
			{ID: 22, Kind: KindPopSymbol, Symbol: "shared"},
		},
		Edges:       []Edge{{Source: 20, Target: 21}, {Source: 21, Target: 22}},
		RootScope:   20,
		ExportNodes: []NodeId{22},
	}
	idsB := g.AddFileGraph(exporterB)

	refs := g.ResolveAll()
	require.Len(t, refs, 2)

	defs := map[NodeId]bool{}
	for _, r := range refs {
		defs[r.DefinitionNode] = true
	}
	assert.True(t, defs[idsA[12]])
	assert.True(t, defs[idsB[22]])
}

func TestRemoveFileClearsNodesAndExports(t *testing.T) {
	g, push, pop := buildSingleFileGraph()
	require.NotZero(t, push)
	require.NotZero(t, pop)

	assert.Equal(t, 3, g.NodeCount())

	g.RemoveFile("a.go")

	assert.Equal(t, 0, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
	_, ok := g.GetNode(push)
	assert.False(t, ok)
	_, ok = g.GetNode(pop)
	assert.False(t, ok)
	assert.Empty(t, g.DefinitionsFor("foo"))

	refs := g.ResolveAll()
	assert.Empty(t, refs)
}
