package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

const (
	trendHistoryCap  = 10
	trendRisingSlope = 0.01
)

// TemporalAnalyzer tracks how centrality and coupling move over successive
// runs: a capped score history per node classified by its recent slope, and
// a project-wide architectural drift series anchored to one representative
// node. Running it repeatedly is how trends accumulate — a single run only
// ever sees a one-point history and reports Stable.
type TemporalAnalyzer struct {
	Now func() time.Time
}

func (a *TemporalAnalyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *TemporalAnalyzer) Name() string { return "temporal" }

func (a *TemporalAnalyzer) Produces() []entity.AnalysisKind {
	return []entity.AnalysisKind{entity.AnalysisCentralityTrend, entity.AnalysisArchitecturalDrift}
}

func (a *TemporalAnalyzer) Requires() []entity.AnalysisKind {
	return []entity.AnalysisKind{entity.AnalysisCompositeSalience, entity.AnalysisCommunityAssignment, entity.AnalysisStabilityClassification}
}

func (a *TemporalAnalyzer) Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error) {
	stats := entity.AnalyzeStats{AnalyzerName: a.Name()}
	now := a.now()

	salience, err := st.GetAnalysesByKind(ctx, entity.AnalysisCompositeSalience)
	if err != nil {
		return stats, fmt.Errorf("load composite salience: %w", err)
	}

	trendByNode := make(map[entity.NodeId]string)
	for _, res := range salience {
		score, _ := toFloat(res.Payload["score"])
		history, err := a.loadHistory(ctx, st, res.NodeID)
		if err != nil {
			stats.AddError(fmt.Sprintf("trend_history:%d", res.NodeID), err)
			continue
		}
		history = append(history, score)
		if len(history) > trendHistoryCap {
			history = history[len(history)-trendHistoryCap:]
		}

		trend := "Stable"
		if len(history) >= 2 {
			points := make([]point, len(history))
			for i, v := range history {
				points[i] = point{X: float64(i), Y: v}
			}
			slope, _ := leastSquaresSlope(points)
			trend = classifyTrend(slope)
		}
		trendByNode[res.NodeID] = trend

		hist := make([]interface{}, len(history))
		for i, v := range history {
			hist[i] = v
		}
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: res.NodeID, Kind: entity.AnalysisCentralityTrend,
			Payload: map[string]interface{}{
				"score_history": hist,
				"trend":         trend,
			},
			ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("trend:%d", res.NodeID), err)
			continue
		}
		stats.NodesWritten++
	}

	if err := a.writeArchitecturalDrift(ctx, st, &stats, now); err != nil {
		return stats, err
	}

	if err := a.enhanceStability(ctx, st, &stats, trendByNode, now); err != nil {
		return stats, err
	}

	return stats, nil
}

func (a *TemporalAnalyzer) loadHistory(ctx context.Context, st store.Store, id entity.NodeId) ([]float64, error) {
	prev, err := st.GetAnalysis(ctx, id, entity.AnalysisCentralityTrend)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	raw, ok := prev.Payload["score_history"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if f, ok := toFloat(v); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func classifyTrend(slope float64) string {
	switch {
	case slope > trendRisingSlope:
		return "Rising"
	case slope < -trendRisingSlope:
		return "Falling"
	default:
		return "Stable"
	}
}

// writeArchitecturalDrift tracks the cross-community coupling ratio of the
// import graph over successive runs, stored against the first node that
// carries a community assignment (an arbitrary but stable anchor).
func (a *TemporalAnalyzer) writeArchitecturalDrift(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, now time.Time) error {
	assignments, err := st.GetAnalysesByKind(ctx, entity.AnalysisCommunityAssignment)
	if err != nil {
		return fmt.Errorf("load community assignments: %w", err)
	}
	if len(assignments) == 0 {
		return nil
	}

	communityOf := make(map[entity.NodeId]int)
	var anchor entity.NodeId
	for i, res := range assignments {
		if c, ok := toFloat(res.Payload["community_id"]); ok {
			communityOf[res.NodeID] = int(c)
		}
		if i == 0 {
			anchor = res.NodeID
		}
	}

	importEdges, err := st.GetEdgesByKind(ctx, entity.EdgeImports)
	if err != nil {
		return fmt.Errorf("load Imports edges: %w", err)
	}
	total, cross := 0, 0
	for _, h := range importEdges {
		src, dst, ok := entity.ProjectEdge(h)
		if !ok {
			continue
		}
		cs, okS := communityOf[src]
		cd, okD := communityOf[dst]
		if !okS || !okD {
			continue
		}
		total++
		if cs != cd {
			cross++
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(cross) / float64(total)
	}

	prev, err := st.GetAnalysis(ctx, anchor, entity.AnalysisArchitecturalDrift)
	if err != nil {
		return fmt.Errorf("load previous architectural drift: %w", err)
	}
	var history []float64
	if prev != nil {
		if raw, ok := prev.Payload["coupling_ratio_history"].([]interface{}); ok {
			for _, v := range raw {
				if f, ok := toFloat(v); ok {
					history = append(history, f)
				}
			}
		}
	}
	history = append(history, ratio)
	if len(history) > trendHistoryCap {
		history = history[len(history)-trendHistoryCap:]
	}

	trend := "Stable"
	if len(history) >= 2 {
		points := make([]point, len(history))
		for i, v := range history {
			points[i] = point{X: float64(i), Y: v}
		}
		slope, _ := leastSquaresSlope(points)
		trend = classifyTrend(slope)
	}

	hist := make([]interface{}, len(history))
	for i, v := range history {
		hist[i] = v
	}
	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: anchor, Kind: entity.AnalysisArchitecturalDrift,
		Payload: map[string]interface{}{
			"coupling_ratio":         ratio,
			"coupling_ratio_history": hist,
			"trend":                  trend,
			"total_import_edges":     total,
			"cross_community_edges":  cross,
		},
		ComputedAt: now,
	}); err != nil {
		stats.AddError(fmt.Sprintf("drift:%d", anchor), err)
		return nil
	}
	stats.NodesWritten++
	return nil
}

// enhanceStability upgrades a subset of stability classifications to
// Declining: any node currently classified StableCore, FoundationalStable,
// ReliableBackground, or Background whose centrality trend is Falling.
// Volatile and ActiveCritical are never affected.
func (a *TemporalAnalyzer) enhanceStability(ctx context.Context, st store.Store, stats *entity.AnalyzeStats, trendByNode map[entity.NodeId]string, now time.Time) error {
	downgradable := map[string]bool{
		"StableCore": true, "FoundationalStable": true,
		"ReliableBackground": true, "Background": true,
	}

	classes, err := st.GetAnalysesByKind(ctx, entity.AnalysisStabilityClassification)
	if err != nil {
		return fmt.Errorf("load stability classifications: %w", err)
	}
	for _, res := range classes {
		class, _ := res.Payload["classification"].(string)
		if !downgradable[class] {
			continue
		}
		if trendByNode[res.NodeID] != "Falling" {
			continue
		}
		payload := make(map[string]interface{}, len(res.Payload)+1)
		for k, v := range res.Payload {
			payload[k] = v
		}
		payload["classification"] = "Declining"
		payload["previous_classification"] = class
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: res.NodeID, Kind: entity.AnalysisStabilityClassification,
			Payload: payload, ComputedAt: now,
		}); err != nil {
			stats.AddError(fmt.Sprintf("stability_decline:%d", res.NodeID), err)
			continue
		}
		stats.NodesWritten++
	}
	return nil
}
