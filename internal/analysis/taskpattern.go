package analysis

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

const (
	confusionZoneRate           = 0.2
	confusionZoneMinCorrections = 2
	taskPatternMinFrequency     = 2
	hotspotMinReferences        = 2
)

// TaskPatternAnalyzer mines agent-session activity: which files prompts
// reference and modify (PromptHotspot), where sessions accumulate
// corrections (CorrectionHotspot), recurring groups of files touched
// together across sessions (TaskPattern), and the vocabulary overlap
// between frequently-referenced files and the entities they define
// (DomainVocabulary).
type TaskPatternAnalyzer struct {
	Now func() time.Time
}

func (a *TaskPatternAnalyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *TaskPatternAnalyzer) Name() string { return "task_pattern" }

func (a *TaskPatternAnalyzer) Produces() []entity.AnalysisKind {
	return []entity.AnalysisKind{
		entity.AnalysisPromptHotspot,
		entity.AnalysisCorrectionHotspot,
		entity.AnalysisTaskPattern,
		entity.AnalysisDomainVocabulary,
	}
}

func (a *TaskPatternAnalyzer) Requires() []entity.AnalysisKind { return nil }

func (a *TaskPatternAnalyzer) Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error) {
	stats := entity.AnalyzeStats{AnalyzerName: a.Name()}
	now := a.now()

	sessions, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeAgentSession, HasKind: true})
	if err != nil {
		return stats, fmt.Errorf("load agent sessions: %w", err)
	}
	if len(sessions) == 0 {
		return stats, nil
	}

	refEdges, err := st.GetEdgesByKind(ctx, entity.EdgePromptReferences)
	if err != nil {
		return stats, fmt.Errorf("load PromptReferences edges: %w", err)
	}
	modEdges, err := st.GetEdgesByKind(ctx, entity.EdgePromptModifiedFiles)
	if err != nil {
		return stats, fmt.Errorf("load PromptModifiedFiles edges: %w", err)
	}

	referenceCount := make(map[entity.NodeId]int)
	modificationCount := make(map[entity.NodeId]int)
	sessionsForFile := make(map[entity.NodeId]map[entity.NodeId]bool)
	sessionFileSet := make(map[entity.NodeId]map[entity.NodeId]bool)

	addFile := func(sessionID, fileID entity.NodeId, modified bool) {
		if modified {
			if sessionFileSet[sessionID] == nil {
				sessionFileSet[sessionID] = make(map[entity.NodeId]bool)
			}
			sessionFileSet[sessionID][fileID] = true
		}
		if sessionsForFile[fileID] == nil {
			sessionsForFile[fileID] = make(map[entity.NodeId]bool)
		}
		sessionsForFile[fileID][sessionID] = true
	}

	for _, h := range refEdges {
		sessionIDs := h.RoleNodeIDs("session")
		fileIDs := h.RoleNodeIDs("file")
		for _, f := range fileIDs {
			referenceCount[f]++
		}
		for _, s := range sessionIDs {
			for _, f := range fileIDs {
				addFile(s, f, false)
			}
		}
	}
	for _, h := range modEdges {
		sessionIDs := h.RoleNodeIDs("session")
		fileIDs := h.RoleNodeIDs("file")
		for _, f := range fileIDs {
			modificationCount[f]++
		}
		for _, s := range sessionIDs {
			for _, f := range fileIDs {
				addFile(s, f, true)
			}
		}
	}

	hotspotFiles := make(map[entity.NodeId]bool)
	for fileID, sessionSet := range sessionsForFile {
		hotspotFiles[fileID] = true
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: fileID, Kind: entity.AnalysisPromptHotspot,
			Payload: map[string]interface{}{
				"reference_count":    referenceCount[fileID],
				"modification_count": modificationCount[fileID],
				"session_count":      len(sessionSet),
			},
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("prompt_hotspot:%d", fileID), err)
			continue
		}
		stats.NodesWritten++
	}

	for _, s := range sessions {
		interactions := toInt(s.Metadata["interaction_count"])
		corrections := toInt(s.Metadata["correction_count"])
		rate := 0.0
		if interactions > 0 {
			rate = roundTo(float64(corrections)/float64(interactions), 3)
		}
		isConfusion := rate > confusionZoneRate && corrections >= confusionZoneMinCorrections
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: s.ID, Kind: entity.AnalysisCorrectionHotspot,
			Payload: map[string]interface{}{
				"correction_rate":   rate,
				"is_confusion_zone": isConfusion,
				"interaction_count": interactions,
				"correction_count":  corrections,
			},
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("correction_hotspot:%d", s.ID), err)
			continue
		}
		stats.NodesWritten++
	}

	if err := a.mineTaskPatterns(ctx, st, &stats, sessionFileSet, now); err != nil {
		return stats, err
	}
	if err := a.writeDomainVocabulary(ctx, st, &stats, referenceCount, hotspotFiles, now); err != nil {
		return stats, err
	}

	return stats, nil
}

// mineTaskPatterns groups sessions by their sorted, deduplicated
// modified-file fingerprint and emits a TaskPattern for every fingerprint
// shared by at least taskPatternMinFrequency sessions.
func (a *TaskPatternAnalyzer) mineTaskPatterns(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, sessionFileSet map[entity.NodeId]map[entity.NodeId]bool, now time.Time) error {
	type group struct {
		files     []entity.NodeId
		sessions  []entity.NodeId
	}
	groups := make(map[string]*group)

	for sessionID, fileSet := range sessionFileSet {
		ids := make([]entity.NodeId, 0, len(fileSet))
		for id := range fileSet {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		key := fingerprintKey(ids)
		g, ok := groups[key]
		if !ok {
			g = &group{files: ids}
			groups[key] = g
		}
		g.sessions = append(g.sessions, sessionID)
	}

	var keys []string
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		g := groups[key]
		if len(g.sessions) < taskPatternMinFrequency {
			continue
		}
		names := make([]string, 0, len(g.files))
		for _, id := range g.files {
			n, err := st.GetNode(ctx, id)
			if err != nil || n == nil {
				continue
			}
			names = append(names, n.Name)
		}
		anchor := g.files[0]
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: anchor, Kind: entity.AnalysisTaskPattern,
			Payload: map[string]interface{}{
				"name":      inferPatternName(names),
				"frequency": len(g.sessions),
				"files":     names,
			},
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("task_pattern:%s", key), err)
			continue
		}
		stats.NodesWritten++
	}
	return nil
}

func fingerprintKey(ids []entity.NodeId) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

// inferPatternName names a file group by its common directory prefix, or
// by a shared extension if the files don't share a directory.
func inferPatternName(names []string) string {
	if len(names) == 0 {
		return "unnamed"
	}
	dir := path.Dir(names[0])
	sameDir := true
	for _, n := range names[1:] {
		if path.Dir(n) != dir {
			sameDir = false
			break
		}
	}
	if sameDir && dir != "." {
		return dir
	}
	ext := path.Ext(names[0])
	sameExt := ext != ""
	for _, n := range names[1:] {
		if path.Ext(n) != ext {
			sameExt = false
			break
		}
	}
	if sameExt {
		return "*" + ext
	}
	return "mixed"
}

// writeDomainVocabulary cross-references hotspot files (referenced by at
// least hotspotMinReferences prompts) with the entities they define,
// surfacing the vocabulary the project's prompts converge on.
func (a *TaskPatternAnalyzer) writeDomainVocabulary(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, referenceCount map[entity.NodeId]int, hotspotFiles map[entity.NodeId]bool, now time.Time) error {
	functions, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeFunction, HasKind: true})
	if err != nil {
		return fmt.Errorf("load functions for vocabulary: %w", err)
	}
	types, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeType, HasKind: true})
	if err != nil {
		return fmt.Errorf("load types for vocabulary: %w", err)
	}

	var anchor entity.NodeId
	var anchorSet bool
	vocabulary := make(map[string]int)
	for fileID := range hotspotFiles {
		if referenceCount[fileID] < hotspotMinReferences {
			continue
		}
		if !anchorSet {
			anchor, anchorSet = fileID, true
		}
		file, err := st.GetNode(ctx, fileID)
		if err != nil || file == nil {
			continue
		}
		for _, n := range append(append([]*entity.Node{}, functions...), types...) {
			if fileForFunction(n.Name) == file.Name {
				leaf := n.Name
				if idx := strings.LastIndex(leaf, "::"); idx >= 0 {
					leaf = leaf[idx+2:]
				}
				vocabulary[leaf]++
			}
		}
	}
	if !anchorSet {
		return nil
	}

	terms := topN(vocabulary, 20)
	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: anchor, Kind: entity.AnalysisDomainVocabulary,
		Payload: map[string]interface{}{
			"terms":              terms,
			"hotspot_file_count": len(hotspotFiles),
		},
		ComputedAt: now,
	}); err != nil {
		stats.AddError("domain_vocabulary", err)
		return nil
	}
	stats.NodesWritten++
	return nil
}
