package analysis

import (
	"context"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

const (
	pageRankDamping    = 0.85
	pageRankIterations = 100
	hitsIterations     = 100
	hitsEpsilon        = 1e-10
	brandesSampleLimit = 50000
)

// CentralityAnalyzer computes PageRank and HITS on the call graph,
// betweenness on the import graph, and a weighted composite salience score
// with a five-way classification.
type CentralityAnalyzer struct {
	Now func() time.Time
}

func (a *CentralityAnalyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *CentralityAnalyzer) Name() string { return "centrality" }

func (a *CentralityAnalyzer) Produces() []entity.AnalysisKind {
	return []entity.AnalysisKind{
		entity.AnalysisPageRank,
		entity.AnalysisBetweennessCentrality,
		entity.AnalysisHITSScore,
		entity.AnalysisCompositeSalience,
	}
}

func (a *CentralityAnalyzer) Requires() []entity.AnalysisKind {
	return []entity.AnalysisKind{entity.AnalysisChangeFrequency, entity.AnalysisContributorConcentration}
}

func (a *CentralityAnalyzer) Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error) {
	stats := entity.AnalyzeStats{AnalyzerName: a.Name()}
	now := a.now()

	callGraph, err := st.LoadCallGraph(ctx, entity.Full())
	if err != nil {
		return stats, fmt.Errorf("load call graph: %w", err)
	}
	importGraph, err := st.LoadImportGraph(ctx, entity.Full())
	if err != nil {
		return stats, fmt.Errorf("load import graph: %w", err)
	}

	pagerank := computePageRank(callGraph)
	auth, hub := computeHITS(callGraph)
	betweenness := computeBrandes(importGraph)

	for id, score := range pagerank {
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: id, Kind: entity.AnalysisPageRank,
			Payload: map[string]interface{}{"score": score}, InputHash: "", ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("pagerank:%d", id), err)
			continue
		}
		stats.NodesWritten++
	}
	for id, score := range auth {
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: id, Kind: entity.AnalysisHITSScore,
			Payload: map[string]interface{}{"authority": score, "hub": hub[id]}, InputHash: "", ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("hits:%d", id), err)
			continue
		}
		stats.NodesWritten++
	}
	for id, score := range betweenness {
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: id, Kind: entity.AnalysisBetweennessCentrality,
			Payload: map[string]interface{}{"score": score}, InputHash: "", ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("betweenness:%d", id), err)
			continue
		}
		stats.NodesWritten++
	}

	if err := a.writeSalience(ctx, st, &stats, callGraph, importGraph, pagerank, auth, betweenness, now); err != nil {
		return stats, err
	}
	return stats, nil
}

// computePageRank runs damped PageRank with a fixed iteration count
// (pageRankDamping, pageRankIterations); no convergence check is required by
// the contract.
func computePageRank(g *entity.InMemoryGraph) map[entity.NodeId]float64 {
	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return nil
	}
	score := make(map[entity.NodeId]float64, n)
	outDegree := make(map[entity.NodeId]int, n)
	for _, id := range nodes {
		score[id] = 1.0 / float64(n)
		outDegree[id] = len(g.OutNeighbors(id))
	}

	for iter := 0; iter < pageRankIterations; iter++ {
		next := make(map[entity.NodeId]float64, n)
		danglingSum := 0.0
		for _, id := range nodes {
			if outDegree[id] == 0 {
				danglingSum += score[id]
			}
			next[id] = (1 - pageRankDamping) / float64(n)
		}
		for _, id := range nodes {
			if outDegree[id] == 0 {
				continue
			}
			share := pageRankDamping * score[id] / float64(outDegree[id])
			for _, nb := range g.OutNeighbors(id) {
				next[nb.NodeID] += share
			}
		}
		dangling := pageRankDamping * danglingSum / float64(n)
		for _, id := range nodes {
			next[id] += dangling
		}
		score = next
	}
	return score
}

// computeHITS runs power iteration with L2 normalization each round,
// terminating early once both vectors' L1 deltas fall under hitsEpsilon.
// Final scores are scaled by their respective maxima.
func computeHITS(g *entity.InMemoryGraph) (authority, hub map[entity.NodeId]float64) {
	nodes := g.Nodes()
	n := len(nodes)
	authority = make(map[entity.NodeId]float64, n)
	hub = make(map[entity.NodeId]float64, n)
	if n == 0 {
		return authority, hub
	}
	for _, id := range nodes {
		authority[id] = 1.0
		hub[id] = 1.0
	}

	inNeighbors := make(map[entity.NodeId][]entity.NodeId, n)
	outNeighbors := make(map[entity.NodeId][]entity.NodeId, n)
	for _, id := range nodes {
		for _, nb := range g.OutNeighbors(id) {
			outNeighbors[id] = append(outNeighbors[id], nb.NodeID)
			inNeighbors[nb.NodeID] = append(inNeighbors[nb.NodeID], id)
		}
	}

	for iter := 0; iter < hitsIterations; iter++ {
		newAuth := make(map[entity.NodeId]float64, n)
		for _, id := range nodes {
			sum := 0.0
			for _, u := range inNeighbors[id] {
				sum += hub[u]
			}
			newAuth[id] = sum
		}
		newHub := make(map[entity.NodeId]float64, n)
		for _, id := range nodes {
			sum := 0.0
			for _, v := range outNeighbors[id] {
				sum += newAuth[v]
			}
			newHub[id] = sum
		}
		normalize(newAuth)
		normalize(newHub)

		d1 := l1Delta(authority, newAuth)
		d2 := l1Delta(hub, newHub)
		authority, hub = newAuth, newHub
		if d1 < hitsEpsilon && d2 < hitsEpsilon {
			break
		}
	}

	scaleToMax(authority)
	scaleToMax(hub)
	return authority, hub
}

func normalize(v map[entity.NodeId]float64) {
	sumSq := 0.0
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for k := range v {
		v[k] /= norm
	}
}

func l1Delta(a, b map[entity.NodeId]float64) float64 {
	sum := 0.0
	for k := range b {
		sum += math.Abs(b[k] - a[k])
	}
	return sum
}

func scaleToMax(v map[entity.NodeId]float64) {
	max := 0.0
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if max == 0 {
		return
	}
	for k := range v {
		v[k] /= max
	}
}

// computeBrandes runs Brandes' betweenness centrality on the unweighted
// graph (treated by hop count, not confidence weight), sampling sources on
// graphs larger than brandesSampleLimit nodes and scaling contributions by
// n/k. Results are normalized to [0, 1] by the maximum score.
func computeBrandes(g *entity.InMemoryGraph) map[entity.NodeId]float64 {
	nodes := g.Nodes()
	n := len(nodes)
	betweenness := make(map[entity.NodeId]float64, n)
	if n == 0 {
		return betweenness
	}
	for _, id := range nodes {
		betweenness[id] = 0
	}

	sources := nodes
	scale := 1.0
	if n > brandesSampleLimit {
		k := int(math.Ceil(math.Sqrt(float64(n))))
		stride := n / k
		if stride < 1 {
			stride = 1
		}
		sources = nil
		for i := 0; i < n; i += stride {
			sources = append(sources, nodes[i])
		}
		scale = float64(n) / float64(len(sources))
	}

	for _, s := range sources {
		stack := []entity.NodeId{}
		preds := make(map[entity.NodeId][]entity.NodeId)
		sigma := make(map[entity.NodeId]float64, n)
		dist := make(map[entity.NodeId]int, n)
		for _, v := range nodes {
			dist[v] = -1
		}
		sigma[s] = 1
		dist[s] = 0
		queue := []entity.NodeId{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, nb := range g.OutNeighbors(v) {
				w := nb.NodeID
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make(map[entity.NodeId]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				if sigma[w] != 0 {
					delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
				}
			}
			if w != s {
				betweenness[w] += delta[w] * scale
			}
		}
	}

	max := 0.0
	for _, v := range betweenness {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for k := range betweenness {
			betweenness[k] /= max
		}
	}
	return betweenness
}

var testFileSuffixes = []string{
	"_test.rs", "_test.go", "_test.py",
	".test.ts", ".spec.ts", ".test.tsx", ".spec.tsx",
	".test.js", ".spec.js", ".test.jsx", ".spec.jsx",
	"Test.java", "Tests.java",
}

// isTestFile reports whether a path names a test file, by leaf-name
// suffix/prefix or by a conventional test directory segment.
func isTestFile(p string) bool {
	leaf := path.Base(p)
	if strings.HasPrefix(leaf, "test_") {
		return true
	}
	for _, suf := range testFileSuffixes {
		if strings.HasSuffix(leaf, suf) {
			return true
		}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "tests" || seg == "test" || seg == "__tests__" {
			return true
		}
	}
	return false
}

// sourceFromTest reverses a detected test file's name into the source file
// it most likely covers, or "" if the pattern is unrecognized.
func sourceFromTest(p string) string {
	dir, leaf := path.Dir(p), path.Base(p)
	join := func(name string) string {
		if dir == "." {
			return name
		}
		return dir + "/" + name
	}
	switch {
	case strings.HasSuffix(leaf, "_test.rs"):
		return join(strings.TrimSuffix(leaf, "_test.rs") + ".rs")
	case strings.HasSuffix(leaf, "_test.go"):
		return join(strings.TrimSuffix(leaf, "_test.go") + ".go")
	case strings.HasPrefix(leaf, "test_") && strings.HasSuffix(leaf, ".py"):
		return join(strings.TrimSuffix(strings.TrimPrefix(leaf, "test_"), ".py") + ".py")
	case strings.HasSuffix(leaf, "_test.py"):
		return join(strings.TrimSuffix(leaf, "_test.py") + ".py")
	case strings.HasSuffix(leaf, ".test.ts"), strings.HasSuffix(leaf, ".spec.ts"):
		return join(strings.TrimSuffix(strings.TrimSuffix(leaf, ".test.ts"), ".spec.ts") + ".ts")
	default:
		return ""
	}
}

// fileForFunction maps a "file.rs::func"-shaped node name down to its file,
// used by test_presence inference for function nodes.
func fileForFunction(name string) string {
	if idx := strings.Index(name, "::"); idx >= 0 {
		return name[:idx]
	}
	return name
}

func (a *CentralityAnalyzer) writeSalience(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, callGraph, importGraph *entity.InMemoryGraph, pagerank, auth, betweenness map[entity.NodeId]float64, now time.Time) error {
	seen := make(map[entity.NodeId]bool)
	for id := range pagerank {
		seen[id] = true
	}
	for id := range betweenness {
		seen[id] = true
	}
	if len(seen) == 0 {
		return nil
	}

	files, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeFile, HasKind: true})
	if err != nil {
		return fmt.Errorf("load files for salience sizing: %w", err)
	}
	maxSize := int64(0)
	testCoveredFiles := make(map[string]bool)
	for _, f := range files {
		if f.SizeBytes() > maxSize {
			maxSize = f.SizeBytes()
		}
		if isTestFile(f.Name) {
			if src := sourceFromTest(f.Name); src != "" {
				testCoveredFiles[src] = true
			}
		}
	}

	for id := range seen {
		node, err := st.GetNode(ctx, id)
		if err != nil {
			stats.AddError(fmt.Sprintf("salience_node:%d", id), err)
			continue
		}
		if node == nil {
			continue
		}

		pr := pagerank[id]
		au := auth[id]
		bw := betweenness[id]

		changeFreq := 0.0
		if cf, err := st.GetAnalysis(ctx, id, entity.AnalysisChangeFrequency); err == nil && cf != nil {
			if p, ok := cf.Payload["percentile"].(float64); ok {
				changeFreq = p / 100
			} else if p, ok := cf.Payload["percentile"].(int); ok {
				changeFreq = float64(p) / 100
			}
		}
		busRisk := 0.0
		if bc, err := st.GetAnalysis(ctx, id, entity.AnalysisContributorConcentration); err == nil && bc != nil {
			if bf, ok := toFloat(bc.Payload["bus_factor"]); ok {
				if bf <= 1 {
					busRisk = 1.0
				} else {
					busRisk = 1.0 / bf
				}
			}
		}
		codeSize := 0.0
		if maxSize > 0 {
			codeSize = float64(node.SizeBytes()) / float64(maxSize)
		} else {
			codeSize = 1
		}

		filePath := node.Name
		if node.Kind == entity.NodeFunction {
			filePath = fileForFunction(node.Name)
		}
		testPresence := 0.0
		if testCoveredFiles[filePath] {
			testPresence = 1.0
		}

		score := 0.30*pr + 0.15*bw + 0.15*au + 0.15*changeFreq + 0.10*busRisk + 0.05*codeSize + 0.10*testPresence
		class := classifySalience(score, busRisk, changeFreq)

		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: id, Kind: entity.AnalysisCompositeSalience,
			Payload: map[string]interface{}{
				"score":            roundTo(score, 6),
				"classification":   class,
				"pagerank":         pr,
				"authority":        au,
				"betweenness":      bw,
				"change_frequency": changeFreq,
				"bus_factor_risk":  busRisk,
				"code_size":        codeSize,
				"test_presence":    testPresence,
			},
			InputHash: "", ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("salience:%d", id), err)
			continue
		}
		stats.NodesWritten++
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// classifySalience applies the five-way table top to bottom: CriticalSilo
// takes precedence over HotCritical when both conditions hold.
func classifySalience(centrality, busRisk, churn float64) string {
	const high = 0.5
	highCentrality := centrality > high
	highChurn := churn > high

	switch {
	case highCentrality && busRisk >= 0.99:
		return "CriticalSilo"
	case highCentrality && highChurn:
		return "HotCritical"
	case highCentrality && !highChurn:
		return "FoundationalStable"
	case !highCentrality && highChurn:
		return "ActiveLocalized"
	default:
		return "Background"
	}
}
