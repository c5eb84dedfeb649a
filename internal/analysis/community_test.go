package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/homergraph/internal/entity"
)

// TestLouvainFindsAtLeastTwoClustersAcrossWeakBridge builds two dense
// triangles joined by a single weak bridge edge. Louvain must separate them
// into at least two communities rather than collapsing everything into one.
func TestLouvainFindsAtLeastTwoClustersAcrossWeakBridge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := mustUpsertNode(t, s, entity.NodeFile, "cluster1/a.go")
	a2 := mustUpsertNode(t, s, entity.NodeFile, "cluster1/b.go")
	a3 := mustUpsertNode(t, s, entity.NodeFile, "cluster1/c.go")
	b1 := mustUpsertNode(t, s, entity.NodeFile, "cluster2/d.go")
	b2 := mustUpsertNode(t, s, entity.NodeFile, "cluster2/e.go")
	b3 := mustUpsertNode(t, s, entity.NodeFile, "cluster2/f.go")

	for _, pair := range [][2]entity.NodeId{{a1, a2}, {a2, a3}, {a1, a3}, {b1, b2}, {b2, b3}, {b1, b3}} {
		importEdge(t, s, pair[0], pair[1])
	}
	importEdge(t, s, a1, b1) // single weak bridge

	now := time.Now()
	com := &CommunityAnalyzer{Now: func() time.Time { return now }}
	_, err := com.Analyze(ctx, s)
	require.NoError(t, err)

	communityOf := make(map[entity.NodeId]int)
	for _, id := range []entity.NodeId{a1, a2, a3, b1, b2, b3} {
		res, err := s.GetAnalysis(ctx, id, entity.AnalysisCommunityAssignment)
		require.NoError(t, err)
		require.NotNil(t, res)
		c, _ := toFloat(res.Payload["community_id"])
		communityOf[id] = int(c)
	}

	distinct := make(map[int]bool)
	for _, c := range communityOf {
		distinct[c] = true
	}
	assert.GreaterOrEqual(t, len(distinct), 2)
	assert.Equal(t, communityOf[a1], communityOf[a2])
	assert.Equal(t, communityOf[a2], communityOf[a3])
	assert.Equal(t, communityOf[b1], communityOf[b2])
	assert.Equal(t, communityOf[b2], communityOf[b3])
}

// TestLouvainModularityBeatsTrivialPartition checks the found partition's
// modularity (sum of per-node contributions) exceeds the trivial
// single-community partition, whose modularity is always zero.
func TestLouvainModularityBeatsTrivialPartition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := mustUpsertNode(t, s, entity.NodeFile, "x/a.go")
	a2 := mustUpsertNode(t, s, entity.NodeFile, "x/b.go")
	a3 := mustUpsertNode(t, s, entity.NodeFile, "x/c.go")
	b1 := mustUpsertNode(t, s, entity.NodeFile, "y/d.go")
	b2 := mustUpsertNode(t, s, entity.NodeFile, "y/e.go")
	b3 := mustUpsertNode(t, s, entity.NodeFile, "y/f.go")

	for _, pair := range [][2]entity.NodeId{{a1, a2}, {a2, a3}, {a1, a3}, {b1, b2}, {b2, b3}, {b1, b3}} {
		importEdge(t, s, pair[0], pair[1])
	}
	importEdge(t, s, a1, b1)

	now := time.Now()
	com := &CommunityAnalyzer{Now: func() time.Time { return now }}
	_, err := com.Analyze(ctx, s)
	require.NoError(t, err)

	total := 0.0
	for _, id := range []entity.NodeId{a1, a2, a3, b1, b2, b3} {
		res, err := s.GetAnalysis(ctx, id, entity.AnalysisCommunityAssignment)
		require.NoError(t, err)
		require.NotNil(t, res)
		c, _ := toFloat(res.Payload["modularity_contribution"])
		total += c
	}
	assert.Greater(t, total, 0.0)
}
