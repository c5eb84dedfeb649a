package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/homergraph/internal/entity"
)

func referencesEdge(t *testing.T, s interface {
	UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error)
}, session entity.NodeId, files ...entity.NodeId) {
	t.Helper()
	members := []entity.Member{{NodeID: session, Role: "session", Position: 0}}
	for i, f := range files {
		members = append(members, entity.Member{NodeID: f, Role: "file", Position: i + 1})
	}
	_, err := s.UpsertHyperedge(context.Background(), &entity.Hyperedge{
		Kind: entity.EdgePromptReferences, Members: members,
	})
	require.NoError(t, err)
}

func modifiesEdge(t *testing.T, s interface {
	UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error)
}, session entity.NodeId, files ...entity.NodeId) {
	t.Helper()
	members := []entity.Member{{NodeID: session, Role: "session", Position: 0}}
	for i, f := range files {
		members = append(members, entity.Member{NodeID: f, Role: "file", Position: i + 1})
	}
	_, err := s.UpsertHyperedge(context.Background(), &entity.Hyperedge{
		Kind: entity.EdgePromptModifiedFiles, Members: members,
	})
	require.NoError(t, err)
}

// TestPromptHotspotAggregatesReferencesAndModifications checks a file
// referenced by two sessions and modified by one accumulates the right
// counts.
func TestPromptHotspotAggregatesReferencesAndModifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	file := mustUpsertNode(t, s, entity.NodeFile, "hot.go")
	sess1 := mustUpsertNode(t, s, entity.NodeAgentSession, "session-1")
	sess2 := mustUpsertNode(t, s, entity.NodeAgentSession, "session-2")

	referencesEdge(t, s, sess1, file)
	referencesEdge(t, s, sess2, file)
	modifiesEdge(t, s, sess1, file)

	now := time.Now()
	tp := &TaskPatternAnalyzer{Now: func() time.Time { return now }}
	_, err := tp.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, file, entity.AnalysisPromptHotspot)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2.0, res.Payload["reference_count"])
	assert.Equal(t, 1.0, res.Payload["modification_count"])
	assert.Equal(t, 2.0, res.Payload["session_count"])
}

// TestCorrectionHotspotFlagsConfusionZone checks a session crossing both the
// correction-rate threshold and the minimum-correction-count floor is
// flagged as a confusion zone, while one under either threshold is not.
func TestCorrectionHotspotFlagsConfusionZone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	confused := mustUpsertNodeWithMeta(t, s, entity.NodeAgentSession, "confused-session", map[string]interface{}{
		"interaction_count": 10, "correction_count": 3,
	})
	fine := mustUpsertNodeWithMeta(t, s, entity.NodeAgentSession, "fine-session", map[string]interface{}{
		"interaction_count": 10, "correction_count": 1,
	})

	now := time.Now()
	tp := &TaskPatternAnalyzer{Now: func() time.Time { return now }}
	_, err := tp.Analyze(ctx, s)
	require.NoError(t, err)

	resConfused, err := s.GetAnalysis(ctx, confused, entity.AnalysisCorrectionHotspot)
	require.NoError(t, err)
	require.NotNil(t, resConfused)
	assert.Equal(t, true, resConfused.Payload["is_confusion_zone"])
	assert.Equal(t, 0.3, resConfused.Payload["correction_rate"])

	resFine, err := s.GetAnalysis(ctx, fine, entity.AnalysisCorrectionHotspot)
	require.NoError(t, err)
	require.NotNil(t, resFine)
	assert.Equal(t, false, resFine.Payload["is_confusion_zone"])
}

// TestTaskPatternGroupsRecurringFileSets checks that two sessions touching
// the same pair of files produce a single TaskPattern with frequency 2,
// while a third session with a different file set is excluded.
func TestTaskPatternGroupsRecurringFileSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustUpsertNode(t, s, entity.NodeFile, "pkg/auth/login.go")
	b := mustUpsertNode(t, s, entity.NodeFile, "pkg/auth/session.go")
	c := mustUpsertNode(t, s, entity.NodeFile, "pkg/billing/invoice.go")

	sess1 := mustUpsertNode(t, s, entity.NodeAgentSession, "s1")
	sess2 := mustUpsertNode(t, s, entity.NodeAgentSession, "s2")
	sess3 := mustUpsertNode(t, s, entity.NodeAgentSession, "s3")

	modifiesEdge(t, s, sess1, a, b)
	modifiesEdge(t, s, sess2, a, b)
	modifiesEdge(t, s, sess3, c)

	now := time.Now()
	tp := &TaskPatternAnalyzer{Now: func() time.Time { return now }}
	_, err := tp.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, a, entity.AnalysisTaskPattern)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2.0, res.Payload["frequency"])
	assert.Equal(t, "pkg/auth", res.Payload["name"])

	resC, err := s.GetAnalysis(ctx, c, entity.AnalysisTaskPattern)
	require.NoError(t, err)
	assert.Nil(t, resC)
}

// TestDomainVocabularyCollectsFunctionNamesFromHotspotFiles checks that
// functions belonging to a sufficiently-referenced file contribute their
// leaf names to the vocabulary.
func TestDomainVocabularyCollectsFunctionNamesFromHotspotFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	file := mustUpsertNode(t, s, entity.NodeFile, "pkg/auth/login.go")
	mustUpsertNode(t, s, entity.NodeFunction, "pkg/auth/login.go::Authenticate")
	mustUpsertNode(t, s, entity.NodeFunction, "pkg/auth/login.go::Authenticate")

	sess1 := mustUpsertNode(t, s, entity.NodeAgentSession, "s1")
	sess2 := mustUpsertNode(t, s, entity.NodeAgentSession, "s2")
	referencesEdge(t, s, sess1, file)
	referencesEdge(t, s, sess2, file)

	now := time.Now()
	tp := &TaskPatternAnalyzer{Now: func() time.Time { return now }}
	_, err := tp.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, file, entity.AnalysisDomainVocabulary)
	require.NoError(t, err)
	require.NotNil(t, res)
	terms, ok := res.Payload["terms"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, terms, "Authenticate")
}
