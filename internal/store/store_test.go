package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/homergraph/internal/entity"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUpsertNode(t *testing.T, s *SQLiteStore, kind entity.NodeKind, name string) entity.NodeId {
	t.Helper()
	id, err := s.UpsertNode(context.Background(), &entity.Node{
		Kind:          kind,
		Name:          name,
		ContentHash:   "h-" + name,
		LastExtracted: time.Now(),
	})
	require.NoError(t, err)
	return id
}

func TestUpsertNodeIsIdempotentByKindName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1 := mustUpsertNode(t, s, entity.NodeFile, "a.go")
	id2, err := s.UpsertNode(ctx, &entity.Node{
		Kind:          entity.NodeFile,
		Name:          "a.go",
		ContentHash:   "h-a.go-updated",
		LastExtracted: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := s.GetNodeByName(ctx, entity.NodeFile, "a.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h-a.go-updated", got.ContentHash)
}

func TestGetNodeMissingReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetNode(context.Background(), entity.NodeId(999))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertHyperedgeRewritesMembersOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	caller := mustUpsertNode(t, s, entity.NodeFunction, "caller")
	callee1 := mustUpsertNode(t, s, entity.NodeFunction, "callee1")
	callee2 := mustUpsertNode(t, s, entity.NodeFunction, "callee2")

	h := &entity.Hyperedge{
		Kind:       entity.EdgeCalls,
		Confidence: 0.8,
		Members: []entity.Member{
			{NodeID: caller, Role: "caller", Position: 0},
			{NodeID: callee1, Role: "callee", Position: 1},
			{NodeID: callee2, Role: "callee", Position: 2},
		},
	}
	id1, err := s.UpsertHyperedge(ctx, h)
	require.NoError(t, err)

	h2 := &entity.Hyperedge{
		Kind:       entity.EdgeCalls,
		Confidence: 0.95,
		Members: []entity.Member{
			{NodeID: callee2, Role: "callee", Position: 0},
			{NodeID: callee1, Role: "callee", Position: 1},
			{NodeID: caller, Role: "caller", Position: 2},
		},
	}
	id2, err := s.UpsertHyperedge(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same identity (same role/node pairs, new positions) should update in place")

	edges, err := s.GetEdgesInvolving(ctx, caller)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Len(t, edges[0].Members, 3)
	assert.Equal(t, callee2, edges[0].Members[0].NodeID, "member rows are rewritten with the new positions")
	assert.Equal(t, 0.95, edges[0].Confidence)
}

func TestUpsertHyperedgeClampsConfidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustUpsertNode(t, s, entity.NodeFunction, "a")
	b := mustUpsertNode(t, s, entity.NodeFunction, "b")

	h := &entity.Hyperedge{
		Kind:       entity.EdgeCalls,
		Confidence: 1.8,
		Members: []entity.Member{
			{NodeID: a, Role: "caller", Position: 0},
			{NodeID: b, Role: "callee", Position: 1},
		},
	}
	_, err := s.UpsertHyperedge(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.Confidence)
}

func TestUpsertHyperedgeRejectsMissingRequiredRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustUpsertNode(t, s, entity.NodeFunction, "a")

	h := &entity.Hyperedge{
		Kind: entity.EdgeCalls,
		Members: []entity.Member{
			{NodeID: a, Role: "caller", Position: 0},
		},
	}
	_, err := s.UpsertHyperedge(ctx, h)
	assert.Error(t, err)
}

func TestInvalidateAnalysesExcludingKindsKeepsListed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := mustUpsertNode(t, s, entity.NodeFunction, "f")

	for _, kind := range []entity.AnalysisKind{
		entity.AnalysisPageRank, entity.AnalysisBetweennessCentrality, entity.AnalysisCompositeSalience,
	} {
		require.NoError(t, s.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID:    n,
			Kind:      kind,
			Payload:   map[string]interface{}{"score": 0.5},
			InputHash: "h",
		}))
	}

	require.NoError(t, s.InvalidateAnalysesExcludingKinds(ctx, n, []entity.AnalysisKind{entity.AnalysisCompositeSalience}))

	kept, err := s.GetAnalysis(ctx, n, entity.AnalysisCompositeSalience)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	gone, err := s.GetAnalysis(ctx, n, entity.AnalysisPageRank)
	require.NoError(t, err)
	assert.Nil(t, gone)

	gone2, err := s.GetAnalysis(ctx, n, entity.AnalysisBetweennessCentrality)
	require.NoError(t, err)
	assert.Nil(t, gone2)
}

func TestInvalidateAllByKinds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n1 := mustUpsertNode(t, s, entity.NodeFunction, "f1")
	n2 := mustUpsertNode(t, s, entity.NodeFunction, "f2")

	for _, n := range []entity.NodeId{n1, n2} {
		require.NoError(t, s.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: n, Kind: entity.AnalysisPageRank, Payload: map[string]interface{}{"score": 0.1}, InputHash: "h",
		}))
	}

	require.NoError(t, s.InvalidateAllByKinds(ctx, []entity.AnalysisKind{entity.AnalysisPageRank}))

	for _, n := range []entity.NodeId{n1, n2} {
		got, err := s.GetAnalysis(ctx, n, entity.AnalysisPageRank)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestAliasChainResolvesToCanonical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := mustUpsertNode(t, s, entity.NodeFunction, "v1")
	v2 := mustUpsertNode(t, s, entity.NodeFunction, "v2")
	v3 := mustUpsertNode(t, s, entity.NodeFunction, "v3")

	_, err := s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeAliases,
		Members: []entity.Member{
			{NodeID: v1, Role: "old", Position: 0},
			{NodeID: v2, Role: "new", Position: 1},
		},
	})
	require.NoError(t, err)
	_, err = s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeAliases,
		Members: []entity.Member{
			{NodeID: v2, Role: "old", Position: 0},
			{NodeID: v3, Role: "new", Position: 1},
		},
	})
	require.NoError(t, err)

	canonical, err := s.ResolveCanonical(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, v3, canonical)

	chain, err := s.AliasChain(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, []entity.NodeId{v1, v2, v3}, chain)
}

func TestAliasChainBoundedOnCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := mustUpsertNode(t, s, entity.NodeFunction, "c1")
	v2 := mustUpsertNode(t, s, entity.NodeFunction, "c2")

	_, err := s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeAliases,
		Members: []entity.Member{
			{NodeID: v1, Role: "old", Position: 0},
			{NodeID: v2, Role: "new", Position: 1},
		},
	})
	require.NoError(t, err)
	_, err = s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeAliases,
		Members: []entity.Member{
			{NodeID: v2, Role: "old", Position: 0},
			{NodeID: v1, Role: "new", Position: 1},
		},
	})
	require.NoError(t, err)

	chain, err := s.AliasChain(ctx, v1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chain), aliasChainBound+1)
}

func TestSnapshotDiffWithoutSourceSiteIsNotRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustUpsertNode(t, s, entity.NodeFunction, "oldName")
	require.NoError(t, s.IndexText(ctx, a, "code", "func oldName() {}"))
	_, err := s.CreateSnapshot(ctx, "before")
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(ctx, a))
	b := mustUpsertNode(t, s, entity.NodeFunction, "newName")
	_ = b
	_, err = s.CreateSnapshot(ctx, "after")
	require.NoError(t, err)

	diff, err := s.GetSnapshotDiff(ctx, "before", "after")
	require.NoError(t, err)
	// Without matching source_file/source_row metadata neither snapshot
	// carries rename-detection fields, so this should surface as a plain
	// remove+add rather than a false-positive rename.
	assert.Empty(t, diff.Renamed)
	assert.Contains(t, diff.AddedNodes, b)
	assert.Contains(t, diff.RemovedNodes, a)
}

func TestSnapshotDiffDetectsRenameViaSharedSourceSite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertNode(ctx, &entity.Node{
		Kind: entity.NodeFunction,
		Name: "oldName",
		Metadata: map[string]interface{}{
			"source_file": "handler.go",
			"source_row":  10,
		},
	})
	require.NoError(t, err)
	_, err = s.CreateSnapshot(ctx, "before")
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(ctx, a))
	b, err := s.UpsertNode(ctx, &entity.Node{
		Kind: entity.NodeFunction,
		Name: "newName",
		Metadata: map[string]interface{}{
			"source_file": "handler.go",
			"source_row":  10,
		},
	})
	require.NoError(t, err)
	_, err = s.CreateSnapshot(ctx, "after")
	require.NoError(t, err)

	diff, err := s.GetSnapshotDiff(ctx, "before", "after")
	require.NoError(t, err)
	require.Len(t, diff.Renamed, 1)
	assert.Equal(t, "oldName", diff.Renamed[0].OldName)
	assert.Equal(t, "newName", diff.Renamed[0].NewName)
	assert.Equal(t, b, diff.Renamed[0].NodeID)
	assert.NotContains(t, diff.AddedNodes, b)
	assert.NotContains(t, diff.RemovedNodes, a)
}

func TestSnapshotDiffUnknownLabelIsPrecondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateSnapshot(ctx, "only")
	require.NoError(t, err)

	_, err = s.GetSnapshotDiff(ctx, "only", "missing")
	assert.Error(t, err)
}

func TestSearchTextHighlightsMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := mustUpsertNode(t, s, entity.NodeDocument, "readme")
	require.NoError(t, s.IndexText(ctx, n, "doc", "the quick brown fox jumps"))

	hits, err := s.SearchText(ctx, "quick", SearchScope{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, n, hits[0].NodeID)
	assert.Contains(t, hits[0].Snippet, "<b>")
}

func TestLoadCallGraphWithNeighborhoodFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustUpsertNode(t, s, entity.NodeFunction, "a")
	b := mustUpsertNode(t, s, entity.NodeFunction, "b")
	c := mustUpsertNode(t, s, entity.NodeFunction, "c")

	_, err := s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeCalls,
		Members: []entity.Member{
			{NodeID: a, Role: "caller", Position: 0},
			{NodeID: b, Role: "callee", Position: 1},
		},
	})
	require.NoError(t, err)
	_, err = s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeCalls,
		Members: []entity.Member{
			{NodeID: b, Role: "caller", Position: 0},
			{NodeID: c, Role: "callee", Position: 1},
		},
	})
	require.NoError(t, err)

	g, err := s.LoadCallGraph(ctx, entity.Neighborhood([]entity.NodeId{a}, 1))
	require.NoError(t, err)
	assert.Contains(t, g.Nodes(), a)
	assert.Contains(t, g.Nodes(), b)
	assert.NotContains(t, g.Nodes(), c)
}

func TestExplicitTransactionRollbackReleasesWriteLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = s.UpsertNode(ctx, &entity.Node{Kind: entity.NodeFile, Name: "after-rollback.go"})
	require.NoError(t, err, "mutex must be released after Rollback so later writes succeed")
}

func TestMarkNodeStaleAndDeleteStaleNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := mustUpsertNode(t, s, entity.NodeFile, "stale.go")
	require.NoError(t, s.MarkNodeStale(ctx, n))

	got, err := s.GetNode(ctx, n)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsStale())

	deleted, err := s.DeleteStaleNodes(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := s.GetNode(ctx, n)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
