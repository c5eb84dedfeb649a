package analysis

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

const (
	louvainMaxLevels = 10
	louvainMaxPasses = 20
)

// CommunityAnalyzer runs multi-level Louvain on the import graph, treated
// as undirected with summed edge weights, and classifies each resulting
// community's stability from its members' recovered centrality and churn.
type CommunityAnalyzer struct {
	Now func() time.Time
}

func (a *CommunityAnalyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *CommunityAnalyzer) Name() string { return "community" }

func (a *CommunityAnalyzer) Produces() []entity.AnalysisKind {
	return []entity.AnalysisKind{entity.AnalysisCommunityAssignment, entity.AnalysisStabilityClassification}
}

func (a *CommunityAnalyzer) Requires() []entity.AnalysisKind {
	return []entity.AnalysisKind{entity.AnalysisCompositeSalience}
}

func (a *CommunityAnalyzer) Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error) {
	stats := entity.AnalyzeStats{AnalyzerName: a.Name()}
	now := a.now()

	importGraph, err := st.LoadImportGraph(ctx, entity.Full())
	if err != nil {
		return stats, fmt.Errorf("load import graph: %w", err)
	}

	nodes := importGraph.Nodes()
	if len(nodes) == 0 {
		return stats, nil
	}

	names := make(map[entity.NodeId]string, len(nodes))
	for _, id := range nodes {
		n, err := st.GetNode(ctx, id)
		if err != nil {
			stats.AddError(fmt.Sprintf("community_node_name:%d", id), err)
			continue
		}
		if n != nil {
			names[id] = n.Name
		}
	}
	lg := buildLouvainGraph(nodes, importGraph.AllEdges(), names)
	finalCommunity, contrib := runLouvain(lg)

	// Group final community members by community id for alignment and
	// stability classification.
	members := make(map[int][]int) // community id -> level-0 indices
	for i, c := range finalCommunity {
		members[c] = append(members[c], i)
	}

	for i := range nodes {
		nodeID := nodes[i]
		c := finalCommunity[i]
		aligned := directoryAligned(i, members[c], lg.nodeName)

		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: nodeID, Kind: entity.AnalysisCommunityAssignment,
			Payload: map[string]interface{}{
				"community_id":            c,
				"modularity_contribution": roundTo(contrib[i], 3),
				"directory_aligned":       aligned,
			},
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("community:%d", nodeID), err)
			continue
		}
		stats.NodesWritten++
	}

	for c, idxs := range members {
		class := a.classifyStability(ctx, st, idxs, lg.nodeID)
		for _, idx := range idxs {
			if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
				NodeID: lg.nodeID[idx], Kind: entity.AnalysisStabilityClassification,
				Payload: map[string]interface{}{
					"community_id":   c,
					"classification": class,
				},
				ComputedAt: now,
			}); err != nil {
				stats.AddError(fmt.Sprintf("stability:%d", lg.nodeID[idx]), err)
				continue
			}
			stats.NodesWritten++
		}
	}

	return stats, nil
}

func (a *CommunityAnalyzer) classifyStability(ctx context.Context, st store.Store, idxs []int, nodeID []entity.NodeId) string {
	var sumPR, sumFreq float64
	n := 0
	for _, idx := range idxs {
		res, err := st.GetAnalysis(ctx, nodeID[idx], entity.AnalysisCompositeSalience)
		if err != nil || res == nil {
			n++
			continue
		}
		if pr, ok := toFloat(res.Payload["pagerank"]); ok {
			sumPR += pr
		}
		if freq, ok := toFloat(res.Payload["change_frequency"]); ok {
			sumFreq += freq
		}
		n++
	}
	if n == 0 {
		return "ReliableBackground"
	}
	avgPR := sumPR / float64(n)
	avgFreq := sumFreq / float64(n)
	highCentrality := avgPR > 0.5
	highChurn := avgFreq > 0.5

	switch {
	case highCentrality && !highChurn:
		return "StableCore"
	case highCentrality && highChurn:
		return "ActiveCritical"
	case !highCentrality && !highChurn:
		return "ReliableBackground"
	default:
		return "Volatile"
	}
}

// directoryAligned reports whether at least half of selfIdx's community
// peers (excluding selfIdx itself) share selfIdx's own directory prefix.
// Singleton communities are trivially aligned.
func directoryAligned(selfIdx int, idxs []int, nodeName []string) bool {
	if len(idxs) <= 1 {
		return true
	}
	selfDir := path.Dir(nodeName[selfIdx])
	sharing, peers := 0, 0
	for _, idx := range idxs {
		if idx == selfIdx {
			continue
		}
		peers++
		if path.Dir(nodeName[idx]) == selfDir {
			sharing++
		}
	}
	return float64(sharing) >= float64(peers)/2
}

// louvainGraph is the working representation for one run of multi-level
// Louvain: a dense 0..n-1 node index, a symmetric adjacency list with
// summed weights, and per-node self-loop weight (used after contraction).
type louvainGraph struct {
	n         int
	nodeID    []entity.NodeId
	nodeName  []string
	adj       []map[int]float64
	selfLoop  []float64
	degree    []float64
	totalM    float64
}

func buildLouvainGraph(nodes []entity.NodeId, edges []entity.ProjectedEdge, names map[entity.NodeId]string) *louvainGraph {
	index := make(map[entity.NodeId]int, len(nodes))
	for i, id := range nodes {
		index[id] = i
	}
	n := len(nodes)
	lg := &louvainGraph{
		n:        n,
		nodeID:   append([]entity.NodeId(nil), nodes...),
		nodeName: make([]string, n),
		adj:      make([]map[int]float64, n),
		selfLoop: make([]float64, n),
		degree:   make([]float64, n),
	}
	for i, id := range nodes {
		lg.nodeName[i] = names[id]
	}
	for i := range lg.adj {
		lg.adj[i] = make(map[int]float64)
	}

	for _, e := range edges {
		a, ok1 := index[e.Source]
		b, ok2 := index[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		if a == b {
			lg.selfLoop[a] += w
			continue
		}
		lg.adj[a][b] += w
		lg.adj[b][a] += w
	}

	for i := 0; i < n; i++ {
		sum := 0.0
		for _, w := range lg.adj[i] {
			sum += w
		}
		lg.degree[i] = sum + 2*lg.selfLoop[i]
		lg.totalM += lg.degree[i]
	}
	lg.totalM /= 2
	return lg
}

// runLouvain executes the full multi-level procedure and returns, for each
// original (level-0) node, its final dense community id and its per-node
// modularity contribution computed against the level-0 graph.
func runLouvain(level0 *louvainGraph) (finalCommunity []int, contrib []float64) {
	n := level0.n
	labelAtLevel := make([]int, n)
	for i := range labelAtLevel {
		labelAtLevel[i] = i
	}

	current := level0
	for level := 0; level < louvainMaxLevels; level++ {
		community := localMove(current)
		dense, remapped := densify(community)
		if remapped == current.n {
			// No community merged further; converged.
			break
		}
		for i := range labelAtLevel {
			labelAtLevel[i] = dense[labelAtLevel[i]]
		}
		if remapped <= 1 || remapped == current.n {
			break
		}
		current = contract(current, dense, remapped)
	}

	finalCommunity = labelAtLevel
	contrib = make([]float64, n)
	totalC := make(map[int]float64)
	for i := 0; i < n; i++ {
		totalC[finalCommunity[i]] += level0.degree[i]
	}
	m2 := 2 * level0.totalM
	if m2 == 0 {
		return finalCommunity, contrib
	}
	for i := 0; i < n; i++ {
		kIn := 2 * level0.selfLoop[i]
		for j, w := range level0.adj[i] {
			if finalCommunity[j] == finalCommunity[i] {
				kIn += w
			}
		}
		raw := kIn - level0.degree[i]*totalC[finalCommunity[i]]/m2
		contrib[i] = raw / m2
	}
	return finalCommunity, contrib
}

// localMove runs phase 1 (greedy local moves) to local optimum, bounded by
// louvainMaxPasses full sweeps.
func localMove(g *louvainGraph) []int {
	community := make([]int, g.n)
	sigmaTot := make([]float64, g.n)
	for i := range community {
		community[i] = i
		sigmaTot[i] = g.degree[i]
	}
	if g.totalM == 0 {
		return community
	}
	m2 := 2 * g.totalM

	for pass := 0; pass < louvainMaxPasses; pass++ {
		moved := false
		for i := 0; i < g.n; i++ {
			ci := community[i]
			sigmaTot[ci] -= g.degree[i]

			neighWeight := make(map[int]float64)
			for j, w := range g.adj[i] {
				neighWeight[community[j]] += w
			}

			bestC, bestGain := ci, neighWeight[ci]-sigmaTot[ci]*g.degree[i]/m2
			for c, w := range neighWeight {
				gain := w - sigmaTot[c]*g.degree[i]/m2
				if gain > bestGain || (gain == bestGain && c < bestC) {
					bestGain, bestC = gain, c
				}
			}

			community[i] = bestC
			sigmaTot[bestC] += g.degree[i]
			if bestC != ci {
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return community
}

// densify renumbers community ids to a contiguous 0..k-1 range in
// first-seen order, returning the remapping and the resulting count.
func densify(community []int) (dense []int, count int) {
	remap := make(map[int]int)
	dense = make([]int, len(community))
	for i, c := range community {
		id, ok := remap[c]
		if !ok {
			id = len(remap)
			remap[c] = id
		}
		dense[i] = id
	}
	return dense, len(remap)
}

// contract builds the next level's graph whose nodes are the previous
// level's communities, summing inter-community weights and preserving
// self-loops (intra-community weight) so later passes still see them.
func contract(g *louvainGraph, dense []int, count int) *louvainGraph {
	next := &louvainGraph{
		n:        count,
		nodeID:   make([]entity.NodeId, count),
		nodeName: make([]string, count),
		adj:      make([]map[int]float64, count),
		selfLoop: make([]float64, count),
		degree:   make([]float64, count),
	}
	for i := range next.adj {
		next.adj[i] = make(map[int]float64)
	}
	// Representative node id/name: first member encountered.
	seen := make([]bool, count)
	for i, c := range dense {
		if !seen[c] {
			next.nodeID[c] = g.nodeID[i]
			next.nodeName[c] = g.nodeName[i]
			seen[c] = true
		}
		next.selfLoop[c] += g.selfLoop[i]
	}

	visited := make(map[[2]int]bool)
	for i := 0; i < g.n; i++ {
		ci := dense[i]
		for j, w := range g.adj[i] {
			cj := dense[j]
			key := [2]int{i, j}
			if i > j {
				key = [2]int{j, i}
			}
			if visited[key] {
				continue
			}
			visited[key] = true
			if ci == cj {
				next.selfLoop[ci] += w
			} else {
				next.adj[ci][cj] += w
				next.adj[cj][ci] += w
			}
		}
	}

	for i := 0; i < count; i++ {
		sum := 0.0
		for _, w := range next.adj[i] {
			sum += w
		}
		next.degree[i] = sum + 2*next.selfLoop[i]
		next.totalM += next.degree[i]
	}
	next.totalM /= 2
	return next
}

