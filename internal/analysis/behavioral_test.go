package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUpsertNode(t *testing.T, s store.Store, kind entity.NodeKind, name string) entity.NodeId {
	t.Helper()
	id, err := s.UpsertNode(context.Background(), &entity.Node{
		Kind: kind, Name: name, ContentHash: "h-" + name, LastExtracted: time.Now(),
	})
	require.NoError(t, err)
	return id
}

// commit inserts a Commit node, an Authored edge to the given author, and a
// Modifies edge covering the given files (each with uniform line counts),
// all timestamped at commitTime.
func commit(t *testing.T, s store.Store, label string, commitTime time.Time, author entity.NodeId, files ...entity.NodeId) {
	t.Helper()
	ctx := context.Background()
	c := mustUpsertNode(t, s, entity.NodeCommit, label)

	_, err := s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeAuthored,
		Members: []entity.Member{
			{NodeID: author, Role: "author", Position: 0},
			{NodeID: c, Role: "commit", Position: 1},
		},
	})
	require.NoError(t, err)

	fileEntries := make([]interface{}, len(files))
	members := make([]entity.Member, 0, len(files)+1)
	members = append(members, entity.Member{NodeID: c, Role: "commit", Position: 0})
	for i, f := range files {
		members = append(members, entity.Member{NodeID: f, Role: "file", Position: i + 1})
		fileEntries[i] = map[string]interface{}{
			"path": label, "status": "modified", "lines_added": 5, "lines_deleted": 2,
		}
	}
	h := &entity.Hyperedge{
		Kind:       entity.EdgeModifies,
		Members:    members,
		Metadata:   map[string]interface{}{"files": fileEntries},
		LastUpdated: commitTime,
	}
	_, err = s.UpsertHyperedge(ctx, h)
	require.NoError(t, err)
}

// TestBusFactorEightyPercentRule exercises the concrete scenario: Alice
// makes 12 of 20 commits (60%), Bob 5 (25%), Carol 3 (15%). Cumulative
// share crosses 80% once Bob is included (60+25=85; Alice alone is 60%),
// so the bus factor is 2, not 1 or 3.
func TestBusFactorEightyPercentRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	file := mustUpsertNode(t, s, entity.NodeFile, "shared.go")
	alice := mustUpsertNode(t, s, entity.NodeContributor, "alice")
	bob := mustUpsertNode(t, s, entity.NodeContributor, "bob")
	carol := mustUpsertNode(t, s, entity.NodeContributor, "carol")

	n := 0
	for i := 0; i < 12; i++ {
		commit(t, s, fmt.Sprintf("alice-commit-%d", i), now, alice, file)
		n++
	}
	for i := 0; i < 5; i++ {
		commit(t, s, fmt.Sprintf("bob-commit-%d", i), now, bob, file)
		n++
	}
	for i := 0; i < 3; i++ {
		commit(t, s, fmt.Sprintf("carol-commit-%d", i), now, carol, file)
		n++
	}
	require.Equal(t, 20, n)

	ba := &BehavioralAnalyzer{Now: func() time.Time { return now }}
	_, err := ba.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, file, entity.AnalysisContributorConcentration)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2.0, res.Payload["bus_factor"])
	assert.Equal(t, 0.6, res.Payload["top_contributor_share"])
	assert.Equal(t, 20.0, res.Payload["total_commits"])
}

// TestTernaryCoChangeProducesSingleHyperedge exercises the concrete
// scenario: files A, B, and C appear together in all 5 commits, so mining
// should emit exactly one CoChanges hyperedge of arity 3 with
// co_occurrences=5 and support=1.0.
func TestTernaryCoChangeProducesSingleHyperedge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := mustUpsertNode(t, s, entity.NodeFile, "a.go")
	b := mustUpsertNode(t, s, entity.NodeFile, "b.go")
	c := mustUpsertNode(t, s, entity.NodeFile, "c.go")
	author := mustUpsertNode(t, s, entity.NodeContributor, "dev")

	for i := 0; i < 5; i++ {
		commit(t, s, fmt.Sprintf("triple-commit-%d", i), now, author, a, b, c)
	}

	ba := &BehavioralAnalyzer{Now: func() time.Time { return now }}
	_, err := ba.Analyze(ctx, s)
	require.NoError(t, err)

	edges, err := s.GetEdgesByKind(ctx, entity.EdgeCoChanges)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	edge := edges[0]
	assert.Equal(t, 3, len(edge.Members))
	assert.Equal(t, 3.0, edge.Metadata["arity"].(float64))
	assert.Equal(t, 5.0, edge.Metadata["co_occurrences"].(float64))
	assert.Equal(t, 1.0, edge.Metadata["support"])
}

func TestChangeFrequencyCountsWithinWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	file := mustUpsertNode(t, s, entity.NodeFile, "recent.go")
	author := mustUpsertNode(t, s, entity.NodeContributor, "dev")

	commit(t, s, "old-commit", now.Add(-400*24*time.Hour), author, file)
	commit(t, s, "mid-commit", now.Add(-100*24*time.Hour), author, file)
	commit(t, s, "new-commit", now.Add(-10*24*time.Hour), author, file)

	ba := &BehavioralAnalyzer{Now: func() time.Time { return now }}
	_, err := ba.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, file, entity.AnalysisChangeFrequency)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3.0, res.Payload["total"])
	assert.Equal(t, 1.0, res.Payload["last_30_days"])
	assert.Equal(t, 1.0, res.Payload["last_90_days"])
	assert.Equal(t, 2.0, res.Payload["last_365_days"])
}

func TestDocumentationFreshnessDetectsStaleness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	file := mustUpsertNode(t, s, entity.NodeFile, "stale_doc.go")
	doc := mustUpsertNode(t, s, entity.NodeDocument, "stale_doc.md")
	author := mustUpsertNode(t, s, entity.NodeContributor, "dev")

	docLastUpdated := now.Add(-200 * 24 * time.Hour)
	_, err := s.UpsertHyperedge(ctx, &entity.Hyperedge{
		Kind: entity.EdgeDocuments,
		Members: []entity.Member{
			{NodeID: doc, Role: "document", Position: 0},
			{NodeID: file, Role: "subject", Position: 1},
		},
		LastUpdated: docLastUpdated,
		Metadata:    map[string]interface{}{"last_updated": docLastUpdated},
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		commit(t, s, fmt.Sprintf("post-doc-commit-%d", i), docLastUpdated.Add(time.Duration(i+1)*24*time.Hour), author, file)
	}

	ba := &BehavioralAnalyzer{Now: func() time.Time { return now }}
	_, err = ba.Analyze(ctx, s)
	require.NoError(t, err)

	res, err := s.GetAnalysis(ctx, file, entity.AnalysisDocumentationFreshness)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, true, res.Payload["is_stale"])
	assert.Equal(t, 4.0, res.Payload["commits_since_doc_update"])
}
