// Package store is the persistent hypergraph store: durable upserts keyed
// by node (kind, name) and hyperedge identity, full-text search, snapshots
// and diffs, alias resolution, selective invalidation, and subgraph loading
// under composable filters. The store is internally serialized; operations
// are logically single-writer.
package store

import (
	"context"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
)

// SearchHit is one ranked full-text match.
type SearchHit struct {
	NodeID  entity.NodeId
	Snippet string // carries <b>…</b> highlight markup
	Rank    float64
}

// SearchScope restricts a full-text query by content type and node kind.
type SearchScope struct {
	ContentTypes []string
	NodeKinds    []entity.NodeKind
	Limit        int // defaults to 20
}

// Store is the persistence contract. Every method may suspend on backend
// I/O; not-found conditions are returned as nil/empty, never as an error.
type Store interface {
	// Nodes
	UpsertNode(ctx context.Context, n *entity.Node) (entity.NodeId, error)
	GetNode(ctx context.Context, id entity.NodeId) (*entity.Node, error)
	GetNodeByName(ctx context.Context, kind entity.NodeKind, name string) (*entity.Node, error)
	FindNodes(ctx context.Context, filter entity.NodeFilter) ([]*entity.Node, error)
	UpsertNodesBatch(ctx context.Context, nodes []*entity.Node) ([]entity.NodeId, error)
	MarkNodeStale(ctx context.Context, id entity.NodeId) error
	DeleteStaleNodes(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteNode(ctx context.Context, id entity.NodeId) error

	// Hyperedges
	UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error)
	GetEdgesInvolving(ctx context.Context, id entity.NodeId) ([]*entity.Hyperedge, error)
	GetEdgesByKind(ctx context.Context, kind entity.EdgeKind) ([]*entity.Hyperedge, error)
	GetCoMembers(ctx context.Context, id entity.NodeId, kind entity.EdgeKind) ([]entity.NodeId, error)

	// Analysis results
	StoreAnalysis(ctx context.Context, r *entity.AnalysisResult) error
	GetAnalysis(ctx context.Context, id entity.NodeId, kind entity.AnalysisKind) (*entity.AnalysisResult, error)
	GetAnalysesByKind(ctx context.Context, kind entity.AnalysisKind) ([]*entity.AnalysisResult, error)

	// Invalidation
	InvalidateAnalyses(ctx context.Context, id entity.NodeId) error
	InvalidateAnalysesByKinds(ctx context.Context, id entity.NodeId, kinds []entity.AnalysisKind) error
	InvalidateAllByKinds(ctx context.Context, kinds []entity.AnalysisKind) error
	InvalidateAnalysesExcludingKinds(ctx context.Context, id entity.NodeId, keep []entity.AnalysisKind) error

	// Full text
	IndexText(ctx context.Context, id entity.NodeId, contentType, content string) error
	SearchText(ctx context.Context, query string, scope SearchScope) ([]SearchHit, error)

	// Checkpoints
	GetCheckpoint(ctx context.Context, kind string) (string, bool, error)
	SetCheckpoint(ctx context.Context, kind, token string) error
	ClearCheckpoint(ctx context.Context, kind string) error

	// Snapshots
	CreateSnapshot(ctx context.Context, label string) (entity.SnapshotId, error)
	ListSnapshots(ctx context.Context) ([]*entity.Snapshot, error)
	DeleteSnapshot(ctx context.Context, label string) error
	GetSnapshotDiff(ctx context.Context, from, to string) (*entity.GraphDiff, error)

	// Subgraph load
	LoadCallGraph(ctx context.Context, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error)
	LoadImportGraph(ctx context.Context, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error)

	// Transactions
	Begin(ctx context.Context) (Tx, error)

	// Alias resolution
	ResolveCanonical(ctx context.Context, id entity.NodeId) (entity.NodeId, error)
	ResolveCanonicalBatch(ctx context.Context, ids []entity.NodeId) (map[entity.NodeId]entity.NodeId, error)
	AliasChain(ctx context.Context, id entity.NodeId) ([]entity.NodeId, error)

	Close() error
}

// Tx is an explicit transaction handle for callers that need atomicity
// beyond a single store operation. Nesting transactions is not supported.
type Tx interface {
	Commit() error
	Rollback() error
}

// aliasChainBound is the fixed depth alias-chain walks are bounded to, per
// the acyclic-data invariant.
const aliasChainBound = 10
