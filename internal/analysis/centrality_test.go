package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/homergraph/internal/entity"
)

func callEdge(t *testing.T, st interface {
	UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error)
}, caller, callee entity.NodeId) {
	t.Helper()
	_, err := st.UpsertHyperedge(context.Background(), &entity.Hyperedge{
		Kind: entity.EdgeCalls,
		Members: []entity.Member{
			{NodeID: caller, Role: "caller", Position: 0},
			{NodeID: callee, Role: "callee", Position: 1},
		},
	})
	require.NoError(t, err)
}

func importEdge(t *testing.T, st interface {
	UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error)
}, source, target entity.NodeId) {
	t.Helper()
	_, err := st.UpsertHyperedge(context.Background(), &entity.Hyperedge{
		Kind: entity.EdgeImports,
		Members: []entity.Member{
			{NodeID: source, Role: "source", Position: 0},
			{NodeID: target, Role: "target", Position: 1},
		},
	})
	require.NoError(t, err)
}

// TestBrandesChainBetweenness exercises a linear chain A -> B -> C: the
// middle node lies on every shortest path between the other two, so its
// betweenness must exceed both endpoints', which are themselves equal (no
// path runs through either as an intermediary).
func TestBrandesChainBetweenness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustUpsertNode(t, s, entity.NodeFile, "a.go")
	b := mustUpsertNode(t, s, entity.NodeFile, "b.go")
	c := mustUpsertNode(t, s, entity.NodeFile, "c.go")
	importEdge(t, s, a, b)
	importEdge(t, s, b, c)

	now := time.Now()
	ca := &CentralityAnalyzer{Now: func() time.Time { return now }}
	_, err := ca.Analyze(ctx, s)
	require.NoError(t, err)

	resA, err := s.GetAnalysis(ctx, a, entity.AnalysisBetweennessCentrality)
	require.NoError(t, err)
	resB, err := s.GetAnalysis(ctx, b, entity.AnalysisBetweennessCentrality)
	require.NoError(t, err)
	resC, err := s.GetAnalysis(ctx, c, entity.AnalysisBetweennessCentrality)
	require.NoError(t, err)

	scoreA, _ := toFloat(resA.Payload["score"])
	scoreB, _ := toFloat(resB.Payload["score"])
	scoreC, _ := toFloat(resC.Payload["score"])

	assert.Greater(t, scoreB, scoreA)
	assert.Equal(t, scoreA, scoreC)
}

// TestSalienceClassificationCriticalSiloTakesPrecedence exercises the
// classification table's stated precedence: a node with high centrality,
// high churn, and bus_factor_risk at or above 0.99 must classify as
// CriticalSilo, not HotCritical, even though both conditions hold.
func TestSalienceClassificationCriticalSiloTakesPrecedence(t *testing.T) {
	class := classifySalience(0.8, 1.0, 0.8)
	assert.Equal(t, "CriticalSilo", class)

	class2 := classifySalience(0.8, 0.2, 0.8)
	assert.Equal(t, "HotCritical", class2)

	class3 := classifySalience(0.8, 0.2, 0.2)
	assert.Equal(t, "FoundationalStable", class3)

	class4 := classifySalience(0.2, 0.2, 0.8)
	assert.Equal(t, "ActiveLocalized", class4)

	class5 := classifySalience(0.2, 0.2, 0.2)
	assert.Equal(t, "Background", class5)
}

// TestPageRankScoresSumToApproximatelyOne checks the sum-invariant of a
// damped PageRank distribution over a small closed cycle: with every node
// having positive out-degree (no dangling mass), the stationary scores sum
// to 1 regardless of graph size.
func TestPageRankScoresSumToApproximatelyOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustUpsertNode(t, s, entity.NodeFunction, "a")
	b := mustUpsertNode(t, s, entity.NodeFunction, "b")
	c := mustUpsertNode(t, s, entity.NodeFunction, "c")
	callEdge(t, s, a, b)
	callEdge(t, s, b, c)
	callEdge(t, s, c, a)

	now := time.Now()
	ca := &CentralityAnalyzer{Now: func() time.Time { return now }}
	_, err := ca.Analyze(ctx, s)
	require.NoError(t, err)

	sum := 0.0
	for _, id := range []entity.NodeId{a, b, c} {
		res, err := s.GetAnalysis(ctx, id, entity.AnalysisPageRank)
		require.NoError(t, err)
		require.NotNil(t, res)
		score, _ := toFloat(res.Payload["score"])
		sum += score
	}
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestIsTestFileAndSourceInference(t *testing.T) {
	cases := []struct {
		path   string
		isTest bool
		source string
	}{
		{"internal/store/store.go", false, ""},
		{"internal/store/store_test.go", true, "internal/store/store.go"},
		{"pkg/util_test.py", true, "pkg/util.py"},
		{"pkg/test_util.py", true, "pkg/util.py"},
		{"src/widget.test.ts", true, "src/widget.ts"},
		{"e2e/tests/login_flow.go", true, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.isTest, isTestFile(c.path), c.path)
		if c.isTest {
			if c.source != "" {
				assert.Equal(t, c.source, sourceFromTest(c.path), c.path)
			}
		}
	}
}
