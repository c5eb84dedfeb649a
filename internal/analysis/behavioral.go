package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

const (
	coChangeMinConfidence    = 0.3
	coChangeMinOccurrences   = 3
	coChangeMaxGroupSize     = 8
	coChangeMinMarginalGain  = 0.05
	coChangePartnerCap       = 10
)

type fileChange struct {
	CommitTime   time.Time
	LinesAdded   int
	LinesDeleted int
	AuthorID     entity.NodeId
}

// BehavioralAnalyzer mines per-file change history: frequency, churn
// velocity, bus factor, co-change groups, and documentation coverage and
// freshness.
type BehavioralAnalyzer struct {
	Now func() time.Time // overridable for deterministic tests; nil uses time.Now
}

func (a *BehavioralAnalyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *BehavioralAnalyzer) Name() string { return "behavioral" }

func (a *BehavioralAnalyzer) Produces() []entity.AnalysisKind {
	return []entity.AnalysisKind{
		entity.AnalysisChangeFrequency,
		entity.AnalysisChurnVelocity,
		entity.AnalysisContributorConcentration,
		entity.AnalysisDocumentationCoverage,
		entity.AnalysisDocumentationFreshness,
	}
}

func (a *BehavioralAnalyzer) Requires() []entity.AnalysisKind { return nil }

func (a *BehavioralAnalyzer) Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error) {
	stats := entity.AnalyzeStats{AnalyzerName: a.Name()}

	modifies, err := st.GetEdgesByKind(ctx, entity.EdgeModifies)
	if err != nil {
		return stats, fmt.Errorf("load Modifies edges: %w", err)
	}
	authored, err := st.GetEdgesByKind(ctx, entity.EdgeAuthored)
	if err != nil {
		return stats, fmt.Errorf("load Authored edges: %w", err)
	}
	documents, err := st.GetEdgesByKind(ctx, entity.EdgeDocuments)
	if err != nil {
		return stats, fmt.Errorf("load Documents edges: %w", err)
	}

	commitAuthor := make(map[entity.NodeId]entity.NodeId, len(authored))
	for _, h := range authored {
		commits := h.RoleNodeIDs("commit")
		authors := h.RoleNodeIDs("author")
		if len(commits) > 0 && len(authors) > 0 {
			commitAuthor[commits[0]] = authors[0]
		}
	}

	fileCommits := make(map[entity.NodeId][]fileChange)
	commitFiles := make(map[entity.NodeId]map[entity.NodeId]bool)
	for _, h := range modifies {
		fileIDs := h.RoleNodeIDs("file")
		commits := h.RoleNodeIDs("commit")
		entries := h.Files()
		if len(fileIDs) == 0 {
			continue
		}
		var commitID entity.NodeId
		if len(commits) > 0 {
			commitID = commits[0]
		}
		if commitFiles[commitID] == nil {
			commitFiles[commitID] = make(map[entity.NodeId]bool)
		}
		for i, fid := range fileIDs {
			added, deleted := 0, 0
			if i < len(entries) {
				added, deleted = entries[i].LinesAdded, entries[i].LinesDeleted
			}
			fileCommits[fid] = append(fileCommits[fid], fileChange{
				CommitTime:   h.LastUpdated,
				LinesAdded:   added,
				LinesDeleted: deleted,
				AuthorID:     commitAuthor[commitID],
			})
			commitFiles[commitID][fid] = true
		}
	}

	now := a.now()
	type freqRecord struct {
		nodeID entity.NodeId
		total  int
	}
	var freqRecords []freqRecord

	for fileID, changes := range fileCommits {
		d30, d90, d365 := 0, 0, 0
		for _, c := range changes {
			age := now.Sub(c.CommitTime)
			if age <= 30*24*time.Hour {
				d30++
			}
			if age <= 90*24*time.Hour {
				d90++
			}
			if age <= 365*24*time.Hour {
				d365++
			}
		}
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: fileID,
			Kind:   entity.AnalysisChangeFrequency,
			Payload: map[string]interface{}{
				"total":         len(changes),
				"last_30_days":  d30,
				"last_90_days":  d90,
				"last_365_days": d365,
			},
			InputHash:  fmt.Sprintf("%d", len(changes)),
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("change_frequency:%d", fileID), err)
			continue
		}
		freqRecords = append(freqRecords, freqRecord{nodeID: fileID, total: len(changes)})
		stats.NodesWritten++

		a.writeChurnVelocity(ctx, st, &stats, fileID, changes, now)
		a.writeBusFactor(ctx, st, &stats, fileID, changes, now)
	}

	sort.Slice(freqRecords, func(i, j int) bool { return freqRecords[i].total < freqRecords[j].total })
	n := len(freqRecords)
	_, _, pairConf := a.scorePairs(commitFiles, fileCommits)
	partners := a.coChangePartners(pairConf)
	for rank, rec := range freqRecords {
		percentile := 0
		if n > 0 {
			percentile = int(roundTo(float64(rank)/float64(n)*100, 0))
		}
		existing, err := st.GetAnalysis(ctx, rec.nodeID, entity.AnalysisChangeFrequency)
		if err != nil || existing == nil {
			continue
		}
		existing.Payload["percentile"] = percentile
		if p, ok := partners[rec.nodeID]; ok {
			existing.Payload["co_change_partners"] = p
		}
		if err := st.StoreAnalysis(ctx, existing); err != nil {
			stats.AddError(fmt.Sprintf("change_frequency_percentile:%d", rec.nodeID), err)
		}
	}

	if err := a.mineCoChanges(ctx, st, &stats, fileCommits, commitFiles); err != nil {
		return stats, err
	}

	if err := a.writeDocumentation(ctx, st, &stats, fileCommits, documents, now); err != nil {
		return stats, err
	}

	return stats, nil
}

func (a *BehavioralAnalyzer) writeChurnVelocity(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, fileID entity.NodeId, changes []fileChange, now time.Time) {
	if len(changes) < 2 {
		return
	}
	buckets := make(map[int]int)
	for _, c := range changes {
		daysAgo := int(now.Sub(c.CommitTime).Hours() / 24)
		bucket := daysAgo / 30
		buckets[bucket] += c.LinesAdded + c.LinesDeleted
	}
	if len(buckets) < 2 {
		total := 0
		for _, v := range buckets {
			total += v
		}
		_ = st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: fileID, Kind: entity.AnalysisChurnVelocity,
			Payload:    map[string]interface{}{"slope": 0.0, "trend": "stable", "total_churn": total, "data_points": len(buckets)},
			InputHash:  fmt.Sprintf("%d", len(changes)), ComputedAt: now,
		})
		return
	}
	var points []point
	total := 0
	for b, churn := range buckets {
		points = append(points, point{X: float64(b), Y: float64(churn)})
		total += churn
	}
	sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
	slope, _ := leastSquaresSlope(points)

	trend := "stable"
	if slope > 0.5 {
		trend = "increasing"
	} else if slope < -0.5 {
		trend = "decreasing"
	}

	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: fileID, Kind: entity.AnalysisChurnVelocity,
		Payload: map[string]interface{}{
			"slope": roundTo(slope, 4), "trend": trend, "total_churn": total, "data_points": len(points),
		},
		InputHash: fmt.Sprintf("%d", len(changes)), ComputedAt: now,
	}); err != nil {
		stats.AddError(fmt.Sprintf("churn_velocity:%d", fileID), err)
		return
	}
	stats.NodesWritten++
}

func (a *BehavioralAnalyzer) writeBusFactor(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, fileID entity.NodeId, changes []fileChange, now time.Time) {
	perAuthor := make(map[entity.NodeId]int)
	for _, c := range changes {
		if c.AuthorID == 0 {
			continue
		}
		perAuthor[c.AuthorID]++
	}
	total := 0
	for _, n := range perAuthor {
		total += n
	}
	if total == 0 {
		return
	}
	type ac struct {
		author entity.NodeId
		count  int
	}
	var counts []ac
	for auth, c := range perAuthor {
		counts = append(counts, ac{auth, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].author < counts[j].author
	})

	cumulative := 0
	busFactor := 0
	for _, c := range counts {
		cumulative += c.count
		busFactor++
		if float64(cumulative)/float64(total) >= 0.8 {
			break
		}
	}
	topShare := 0.0
	if total > 0 {
		topShare = roundTo(float64(counts[0].count)/float64(total), 2)
	}

	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: fileID, Kind: entity.AnalysisContributorConcentration,
		Payload: map[string]interface{}{
			"bus_factor": busFactor, "top_contributor_share": topShare,
			"unique_author_count": len(counts), "total_commits": total,
		},
		InputHash: fmt.Sprintf("%d", total), ComputedAt: now,
	}); err != nil {
		stats.AddError(fmt.Sprintf("bus_factor:%d", fileID), err)
		return
	}
	stats.NodesWritten++
}

type coChangePartner struct {
	NodeID     entity.NodeId `json:"node_id"`
	Confidence float64       `json:"confidence"`
}

// pairKey canonicalizes an unordered file pair, smaller id first.
func pairKey(a, b entity.NodeId) (entity.NodeId, entity.NodeId) {
	if a > b {
		return b, a
	}
	return a, b
}

func (a *BehavioralAnalyzer) coChangePartners(pairConf map[entity.NodeId]map[entity.NodeId]float64) map[entity.NodeId][]coChangePartner {
	out := make(map[entity.NodeId][]coChangePartner, len(pairConf))
	for f, partners := range pairConf {
		list := make([]coChangePartner, 0, len(partners))
		for p, conf := range partners {
			list = append(list, coChangePartner{NodeID: p, Confidence: conf})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Confidence != list[j].Confidence {
				return list[i].Confidence > list[j].Confidence
			}
			return list[i].NodeID < list[j].NodeID
		})
		if len(list) > coChangePartnerCap {
			list = list[:coChangePartnerCap]
		}
		out[f] = list
	}
	return out
}

// scorePairs computes, for every file pair that co-occurs in at least
// coChangeMinOccurrences commits, its co-change confidence. Pairs below
// coChangeMinConfidence are dropped.
func (a *BehavioralAnalyzer) scorePairs(commitFiles map[entity.NodeId]map[entity.NodeId]bool, fileCommits map[entity.NodeId][]fileChange) (pairCounts map[[2]entity.NodeId]int, order [][2]entity.NodeId, pairConf map[entity.NodeId]map[entity.NodeId]float64) {
	pairCounts = make(map[[2]entity.NodeId]int)
	for _, files := range commitFiles {
		ids := make([]entity.NodeId, 0, len(files))
		for f := range files {
			ids = append(ids, f)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				k, l := pairKey(ids[i], ids[j])
				pairCounts[[2]entity.NodeId{k, l}]++
			}
		}
	}

	pairConf = make(map[entity.NodeId]map[entity.NodeId]float64)
	for pair, count := range pairCounts {
		if count < coChangeMinOccurrences {
			continue
		}
		countA, countB := len(fileCommits[pair[0]]), len(fileCommits[pair[1]])
		denom := countA
		if countB < denom {
			denom = countB
		}
		if denom == 0 {
			continue
		}
		conf := float64(count) / float64(denom)
		if conf < coChangeMinConfidence {
			continue
		}
		order = append(order, pair)
		if pairConf[pair[0]] == nil {
			pairConf[pair[0]] = make(map[entity.NodeId]float64)
		}
		if pairConf[pair[1]] == nil {
			pairConf[pair[1]] = make(map[entity.NodeId]float64)
		}
		pairConf[pair[0]][pair[1]] = conf
		pairConf[pair[1]][pair[0]] = conf
	}
	return pairCounts, order, pairConf
}

func (a *BehavioralAnalyzer) mineCoChanges(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, fileCommits map[entity.NodeId][]fileChange, commitFiles map[entity.NodeId]map[entity.NodeId]bool) error {
	_, order, pairConf := a.scorePairs(commitFiles, fileCommits)
	if len(order) == 0 {
		return nil
	}

	type scored struct {
		pair [2]entity.NodeId
		conf float64
	}
	scoredPairs := make([]scored, 0, len(order))
	for _, pair := range order {
		scoredPairs = append(scoredPairs, scored{pair: pair, conf: pairConf[pair[0]][pair[1]]})
	}
	sort.Slice(scoredPairs, func(i, j int) bool { return scoredPairs[i].conf > scoredPairs[j].conf })

	consumed := make(map[[2]entity.NodeId]bool)
	markConsumed := func(members []entity.NodeId) {
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				k, l := pairKey(members[i], members[j])
				consumed[[2]entity.NodeId{k, l}] = true
			}
		}
	}

	var groups [][]entity.NodeId
	for _, sp := range scoredPairs {
		if consumed[sp.pair] {
			continue
		}
		group := []entity.NodeId{sp.pair[0], sp.pair[1]}
		inGroup := map[entity.NodeId]bool{sp.pair[0]: true, sp.pair[1]: true}
		groupMinConf := sp.conf

		for len(group) < coChangeMaxGroupSize {
			var bestCandidate entity.NodeId
			bestConf := -1.0
			found := false
			for cand, conns := range pairConf {
				if inGroup[cand] {
					continue
				}
				minLink := -1.0
				valid := true
				for _, member := range group {
					conf, ok := conns[member]
					if !ok || conf < coChangeMinConfidence {
						valid = false
						break
					}
					if minLink < 0 || conf < minLink {
						minLink = conf
					}
				}
				if !valid {
					continue
				}
				if minLink > bestConf {
					bestConf = minLink
					bestCandidate = cand
					found = true
				}
			}
			if !found || bestConf < groupMinConf-coChangeMinMarginalGain {
				break
			}
			group = append(group, bestCandidate)
			inGroup[bestCandidate] = true
		}

		markConsumed(group)
		groups = append(groups, group)
	}

	totalCommits := len(commitFiles)
	for _, group := range groups {
		minConf := 1.0
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if conf, ok := pairConf[group[i]][group[j]]; ok && conf < minConf {
					minConf = conf
				}
			}
		}
		coOccurrences := 0
		for _, files := range commitFiles {
			allPresent := true
			for _, f := range group {
				if !files[f] {
					allPresent = false
					break
				}
			}
			if allPresent {
				coOccurrences++
			}
		}
		support := 0.0
		if totalCommits > 0 {
			support = float64(coOccurrences) / float64(totalCommits)
		}

		h := &entity.Hyperedge{
			Kind:       entity.EdgeCoChanges,
			Confidence: minConf,
			Metadata: map[string]interface{}{
				"co_occurrences": coOccurrences,
				"support":        roundTo(support, 4),
				"arity":          len(group),
			},
		}
		for i, f := range group {
			h.Members = append(h.Members, entity.Member{NodeID: f, Role: "file", Position: i})
		}
		if _, err := st.UpsertHyperedge(ctx, h); err != nil {
			stats.AddError(fmt.Sprintf("co_change_group:%d", group[0]), err)
			continue
		}
		stats.NodesWritten++
	}
	return nil
}

func (a *BehavioralAnalyzer) writeDocumentation(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, fileCommits map[entity.NodeId][]fileChange, documents []*entity.Hyperedge, now time.Time) error {
	documented := make(map[entity.NodeId]*entity.Hyperedge)
	for _, h := range documents {
		subjects := h.RoleNodeIDs("subject")
		for _, s := range subjects {
			if existing, ok := documented[s]; !ok || h.LastUpdated.After(existing.LastUpdated) {
				documented[s] = h
			}
		}
	}

	files, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeFile, HasKind: true})
	if err != nil {
		return fmt.Errorf("load files for documentation analysis: %w", err)
	}
	for _, f := range files {
		hasDocComments := false
		if f.Metadata != nil {
			if v, ok := f.Metadata["has_doc_comments"].(bool); ok {
				hasDocComments = v
			}
		}
		docEdge, isDocumented := documented[f.ID]
		status := "undocumented"
		if isDocumented {
			status = "documented"
		}
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID:     f.ID,
			Kind:       entity.AnalysisDocumentationCoverage,
			Payload:    map[string]interface{}{"status": status, "has_doc_comments": hasDocComments},
			InputHash:  status,
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("doc_coverage:%d", f.ID), err)
			continue
		}
		stats.NodesWritten++

		if !isDocumented {
			continue
		}
		commitsSinceUpdate := 0
		for _, c := range fileCommits[f.ID] {
			if c.CommitTime.After(docEdge.LastUpdated) {
				commitsSinceUpdate++
			}
		}
		isStale := commitsSinceUpdate >= 3
		stalenessRisk := 0.0
		if isStale {
			salienceScore := 0.0
			if sal, err := st.GetAnalysis(ctx, f.ID, entity.AnalysisCompositeSalience); err == nil && sal != nil {
				if v, ok := sal.Payload["score"].(float64); ok {
					salienceScore = v
				}
			}
			stalenessRisk = clamp01(0.3*float64(commitsSinceUpdate) + 0.7*salienceScore)
		}
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: f.ID, Kind: entity.AnalysisDocumentationFreshness,
			Payload: map[string]interface{}{
				"commits_since_doc_update": commitsSinceUpdate,
				"is_stale":                 isStale,
				"staleness_risk":           roundTo(stalenessRisk, 4),
			},
			InputHash: fmt.Sprintf("%d", commitsSinceUpdate), ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("doc_freshness:%d", f.ID), err)
			continue
		}
		stats.NodesWritten++
	}
	return nil
}
