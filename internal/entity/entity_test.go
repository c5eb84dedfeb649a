package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeIdentityIgnoresMemberOrder(t *testing.T) {
	a := Hyperedge{
		Kind: EdgeCalls,
		Members: []Member{
			{NodeID: 1, Role: "caller", Position: 0},
			{NodeID: 2, Role: "callee", Position: 1},
		},
	}
	b := Hyperedge{
		Kind: EdgeCalls,
		Members: []Member{
			{NodeID: 2, Role: "callee", Position: 0},
			{NodeID: 1, Role: "caller", Position: 1},
		},
	}
	assert.Equal(t, a.Identity(), b.Identity())
}

func TestEdgeIdentityDiffersByRoleOrKind(t *testing.T) {
	base := Hyperedge{
		Kind: EdgeCalls,
		Members: []Member{
			{NodeID: 1, Role: "caller", Position: 0},
			{NodeID: 2, Role: "callee", Position: 1},
		},
	}
	swappedRoles := Hyperedge{
		Kind: EdgeCalls,
		Members: []Member{
			{NodeID: 1, Role: "callee", Position: 0},
			{NodeID: 2, Role: "caller", Position: 1},
		},
	}
	otherKind := base
	otherKind.Kind = EdgeImports

	assert.NotEqual(t, base.Identity(), swappedRoles.Identity())
	assert.NotEqual(t, base.Identity(), otherKind.Identity())
}

func TestSortedMembersOrdersByPosition(t *testing.T) {
	h := Hyperedge{
		Kind: EdgeCoChanges,
		Members: []Member{
			{NodeID: 3, Role: "file", Position: 2},
			{NodeID: 1, Role: "file", Position: 0},
			{NodeID: 2, Role: "file", Position: 1},
		},
	}
	sorted := h.SortedMembers()
	require.Len(t, sorted, 3)
	assert.Equal(t, NodeId(1), sorted[0].NodeID)
	assert.Equal(t, NodeId(2), sorted[1].NodeID)
	assert.Equal(t, NodeId(3), sorted[2].NodeID)
}

func TestClampConfidence(t *testing.T) {
	h := &Hyperedge{Confidence: 1.5}
	assert.True(t, h.ClampConfidence())
	assert.Equal(t, 1.0, h.Confidence)

	h2 := &Hyperedge{Confidence: -0.2}
	assert.True(t, h2.ClampConfidence())
	assert.Equal(t, 0.0, h2.Confidence)

	h3 := &Hyperedge{Confidence: 0.4}
	assert.False(t, h3.ClampConfidence())
}

func TestProjectEdgePrefersRolePriority(t *testing.T) {
	h := &Hyperedge{
		Kind: EdgeCalls,
		Members: []Member{
			{NodeID: 10, Role: "caller", Position: 0},
			{NodeID: 20, Role: "callee", Position: 1},
		},
	}
	src, dst, ok := ProjectEdge(h)
	require.True(t, ok)
	assert.Equal(t, NodeId(10), src)
	assert.Equal(t, NodeId(20), dst)
}

func TestProjectEdgeFallsBackToPositionOrder(t *testing.T) {
	h := &Hyperedge{
		Kind: EdgeIncludes,
		Members: []Member{
			{NodeID: 30, Role: "parent", Position: 0},
			{NodeID: 40, Role: "child", Position: 1},
		},
	}
	src, dst, ok := ProjectEdge(h)
	require.True(t, ok)
	assert.Equal(t, NodeId(30), src)
	assert.Equal(t, NodeId(40), dst)
}

func TestFromEdgesIsDeterministic(t *testing.T) {
	edges := []*Hyperedge{
		{ID: 1, Kind: EdgeCalls, Confidence: 0.9, Members: []Member{
			{NodeID: 1, Role: "caller", Position: 0},
			{NodeID: 2, Role: "callee", Position: 1},
		}},
		{ID: 2, Kind: EdgeCalls, Confidence: 0.4, Members: []Member{
			{NodeID: 2, Role: "caller", Position: 0},
			{NodeID: 3, Role: "callee", Position: 1},
		}},
	}

	g1 := FromEdges(edges)
	g2 := FromEdges(edges)

	assert.Equal(t, g1.Nodes(), g2.Nodes())
	assert.Equal(t, g1.NodeCount(), 3)
	assert.Equal(t, g1.EdgeCount(), g2.EdgeCount())
}

func TestDiffSnapshotsDetectsRename(t *testing.T) {
	from := &Snapshot{NodeIDs: []NodeId{1, 2}}
	to := &Snapshot{NodeIDs: []NodeId{1, 3}}

	fromRows := []NodeIdentityRow{
		{NodeID: 1, Name: "keep", SourceFile: "a.go", SourceRow: 1},
		{NodeID: 2, Name: "old_name", SourceFile: "b.go", SourceRow: 5},
	}
	toRows := []NodeIdentityRow{
		{NodeID: 1, Name: "keep", SourceFile: "a.go", SourceRow: 1},
		{NodeID: 3, Name: "new_name", SourceFile: "b.go", SourceRow: 5},
	}

	diff := DiffSnapshots(from, to, fromRows, toRows)
	require.Len(t, diff.Renamed, 1)
	assert.Equal(t, "old_name", diff.Renamed[0].OldName)
	assert.Equal(t, "new_name", diff.Renamed[0].NewName)
	assert.Empty(t, diff.RemovedNodes)
	assert.Empty(t, diff.AddedNodes)
}

func TestDiffSnapshotsSubsetHasNoRemovals(t *testing.T) {
	s1 := &Snapshot{NodeIDs: []NodeId{1, 2}}
	s2 := &Snapshot{NodeIDs: []NodeId{1, 2, 3}}

	diff := DiffSnapshots(s1, s2, nil, nil)
	assert.Empty(t, diff.RemovedNodes)
	assert.Equal(t, []NodeId{3}, diff.AddedNodes)
}
