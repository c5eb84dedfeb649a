package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/homergraph/internal/entity"
)

func mustUpsertNodeWithMeta(t *testing.T, s interface {
	UpsertNode(ctx context.Context, n *entity.Node) (entity.NodeId, error)
}, kind entity.NodeKind, name string, meta map[string]interface{}) entity.NodeId {
	t.Helper()
	id, err := s.UpsertNode(context.Background(), &entity.Node{
		Kind: kind, Name: name, ContentHash: "h-" + name, LastExtracted: time.Now(), Metadata: meta,
	})
	require.NoError(t, err)
	return id
}

// TestNamingPatternDetectsDominantSnakeCase exercises a mixed-casing set of
// functions where snake_case is the majority pattern.
func TestNamingPatternDetectsDominantSnakeCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsertNode(t, s, entity.NodeFunction, "load_commits")
	mustUpsertNode(t, s, entity.NodeFunction, "save_commit")
	mustUpsertNode(t, s, entity.NodeFunction, "find_node_by_id")
	mustUpsertNode(t, s, entity.NodeFunction, "loadCommits")

	now := time.Now()
	conv := &ConventionAnalyzer{Now: func() time.Time { return now }}
	mustUpsertNode(t, s, entity.NodeFile, "a.go")
	_, err := conv.Analyze(ctx, s)
	require.NoError(t, err)

	files, err := s.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeFile, HasKind: true})
	require.NoError(t, err)
	require.Len(t, files, 1)

	res, err := s.GetAnalysis(ctx, files[0].ID, entity.AnalysisNamingPattern)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "snake_case", res.Payload["dominant_pattern"])
	assert.Equal(t, 4.0, res.Payload["sample_size"])
}

// TestTestingPatternDetectsCoLocatedGoTests exercises the co-located layout
// case: a source file and its _test.go sibling, with the test file's content
// mentioning the standard library testing package.
func TestTestingPatternDetectsCoLocatedGoTests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	widget := mustUpsertNode(t, s, entity.NodeFile, "widget.go")
	mustUpsertNodeWithMeta(t, s, entity.NodeFile, "widget_test.go", map[string]interface{}{
		"content": "func TestWidget(t *testing.T) {}",
	})

	now := time.Now()
	conv := &ConventionAnalyzer{Now: func() time.Time { return now }}
	_, err := conv.Analyze(ctx, s)
	require.NoError(t, err)

	// "widget.go" sorts before "widget_test.go", so it is the anchor.
	res, err := s.GetAnalysis(ctx, widget, entity.AnalysisTestingPattern)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "go_test", res.Payload["framework"])
	assert.Equal(t, "co-located", res.Payload["layout"])
	assert.Equal(t, 1.0, res.Payload["test_file_count"])
	assert.Equal(t, 1.0, res.Payload["source_file_count"])
}

// TestErrorHandlingPatternCountsGoSignal checks the dominant error-handling
// signal is detected from file content across several files.
func TestErrorHandlingPatternCountsGoSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fa := mustUpsertNodeWithMeta(t, s, entity.NodeFile, "a.go", map[string]interface{}{
		"content": "if err != nil {\n  return err\n}\nif err != nil {\n  return err\n}",
	})
	mustUpsertNodeWithMeta(t, s, entity.NodeFile, "b.go", map[string]interface{}{
		"content": "if err != nil {\n  return err\n}",
	})

	now := time.Now()
	conv := &ConventionAnalyzer{Now: func() time.Time { return now }}
	_, err := conv.Analyze(ctx, s)
	require.NoError(t, err)

	// "a.go" sorts first among files, so it is the anchor.
	res, err := s.GetAnalysis(ctx, fa, entity.AnalysisErrorHandlingPattern)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "if err != nil", res.Payload["dominant_signal"])
	assert.Equal(t, 3.0, res.Payload["dominant_count"])
}

// TestDocumentationStyleCoverageRatio checks coverage is computed as the
// ratio of documented files to total files.
func TestDocumentationStyleCoverageRatio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f1 := mustUpsertNode(t, s, entity.NodeFile, "a.go")
	mustUpsertNode(t, s, entity.NodeFile, "b.go")
	doc := mustUpsertNode(t, s, entity.NodeDocument, "a.md")

	_, err := s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeDocuments,
		Members: []entity.Member{
			{NodeID: doc, Role: "document", Position: 0},
			{NodeID: f1, Role: "subject", Position: 1},
		},
		Metadata: map[string]interface{}{"has_params": true},
	})
	require.NoError(t, err)

	now := time.Now()
	conv := &ConventionAnalyzer{Now: func() time.Time { return now }}
	_, err = conv.Analyze(ctx, s)
	require.NoError(t, err)

	// "a.go" sorts first among files, so it is the anchor.
	res, err := s.GetAnalysis(ctx, f1, entity.AnalysisDocumentationStylePattern)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0.5, res.Payload["coverage"])
	assert.Equal(t, 1.0, res.Payload["has_params_count"])
}

// TestAgentRuleValidationFlagsInconsistentRule checks a rule that mentions a
// naming pattern different from the detected dominant pattern is flagged.
func TestAgentRuleValidationFlagsInconsistentRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	file := mustUpsertNode(t, s, entity.NodeFile, "a.go")
	mustUpsertNode(t, s, entity.NodeFunction, "load_commits")
	mustUpsertNode(t, s, entity.NodeFunction, "save_commit")
	mustUpsertNodeWithMeta(t, s, entity.NodeAgentRule, "rule-naming", map[string]interface{}{
		"content": "All functions must use camelCase naming.",
	})

	now := time.Now()
	conv := &ConventionAnalyzer{Now: func() time.Time { return now }}
	_, err := conv.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, file, entity.AnalysisAgentRuleValidation)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1.0, res.Payload["rules_checked"])
	assert.Equal(t, 1.0, res.Payload["inconsistent_rules"])
	assert.Equal(t, 0.0, res.Payload["consistent_rules"])
}
