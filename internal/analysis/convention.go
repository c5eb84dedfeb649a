package analysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

// ConventionAnalyzer inspects node names, file metadata, and extracted
// source content to report the project's dominant naming, testing,
// error-handling, and documentation conventions, then cross-checks any
// recorded agent rules against the detected naming pattern. Results are
// project-wide, so each is written once against a single stable anchor
// node (the first, by name, of the relevant kind) rather than per-node.
type ConventionAnalyzer struct {
	Now func() time.Time
}

func (a *ConventionAnalyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *ConventionAnalyzer) Name() string { return "convention" }

func (a *ConventionAnalyzer) Produces() []entity.AnalysisKind {
	return []entity.AnalysisKind{
		entity.AnalysisNamingPattern,
		entity.AnalysisTestingPattern,
		entity.AnalysisErrorHandlingPattern,
		entity.AnalysisDocumentationStylePattern,
		entity.AnalysisAgentRuleValidation,
	}
}

func (a *ConventionAnalyzer) Requires() []entity.AnalysisKind { return nil }

func (a *ConventionAnalyzer) Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error) {
	stats := entity.AnalyzeStats{AnalyzerName: a.Name()}
	now := a.now()

	files, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeFile, HasKind: true})
	if err != nil {
		return stats, fmt.Errorf("load files: %w", err)
	}
	functions, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeFunction, HasKind: true})
	if err != nil {
		return stats, fmt.Errorf("load functions: %w", err)
	}
	types, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeType, HasKind: true})
	if err != nil {
		return stats, fmt.Errorf("load types: %w", err)
	}
	if len(files) == 0 {
		return stats, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	anchor := files[0].ID

	namingPattern := a.analyzeNaming(append(functions, types...))
	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: anchor, Kind: entity.AnalysisNamingPattern, Payload: namingPattern, ComputedAt: now,
	}); err != nil {
		stats.AddError("naming_pattern", err)
	} else {
		stats.NodesWritten++
	}

	testingPattern := a.analyzeTesting(files)
	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: anchor, Kind: entity.AnalysisTestingPattern, Payload: testingPattern, ComputedAt: now,
	}); err != nil {
		stats.AddError("testing_pattern", err)
	} else {
		stats.NodesWritten++
	}

	errorPattern := a.analyzeErrorHandling(files)
	if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
		NodeID: anchor, Kind: entity.AnalysisErrorHandlingPattern, Payload: errorPattern, ComputedAt: now,
	}); err != nil {
		stats.AddError("error_handling_pattern", err)
	} else {
		stats.NodesWritten++
	}

	docStyle, err := a.analyzeDocumentationStyle(ctx, st, files)
	if err != nil {
		stats.AddError("documentation_style_pattern", err)
	} else {
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: anchor, Kind: entity.AnalysisDocumentationStylePattern, Payload: docStyle, ComputedAt: now,
		}); err != nil {
			stats.AddError("documentation_style_pattern", err)
		} else {
			stats.NodesWritten++
		}
	}

	dominant, _ := namingPattern["dominant_pattern"].(string)
	ruleValidation, err := a.validateAgentRules(ctx, st, dominant)
	if err != nil {
		stats.AddError("agent_rule_validation", err)
	} else if ruleValidation != nil {
		if err := st.StoreAnalysis(ctx, &entity.AnalysisResult{
			NodeID: anchor, Kind: entity.AnalysisAgentRuleValidation, Payload: ruleValidation, ComputedAt: now,
		}); err != nil {
			stats.AddError("agent_rule_validation", err)
		} else {
			stats.NodesWritten++
		}
	}

	return stats, nil
}

var (
	snakeCaseRe  = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)+$`)
	lowercaseRe  = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	screamingRe  = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)+$`)
	pascalCaseRe = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	camelCaseRe  = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*$`)
)

// classifyIdentifier returns the casing pattern a bare identifier (the
// leaf segment of a node name) follows, or "mixed" if none match.
func classifyIdentifier(name string) string {
	leaf := name
	if idx := strings.LastIndex(leaf, "::"); idx >= 0 {
		leaf = leaf[idx+2:]
	}
	if idx := strings.LastIndex(leaf, "."); idx >= 0 {
		leaf = leaf[idx+1:]
	}
	switch {
	case screamingRe.MatchString(leaf):
		return "SCREAMING_SNAKE_CASE"
	case snakeCaseRe.MatchString(leaf):
		return "snake_case"
	case camelCaseRe.MatchString(leaf):
		return "camelCase"
	case pascalCaseRe.MatchString(leaf):
		return "PascalCase"
	case lowercaseRe.MatchString(leaf):
		return "lowercase"
	default:
		return "mixed"
	}
}

func (a *ConventionAnalyzer) analyzeNaming(nodes []*entity.Node) map[string]interface{} {
	counts := map[string]int{}
	prefixCounts := map[string]int{}
	suffixCounts := map[string]int{}
	for _, n := range nodes {
		pattern := classifyIdentifier(n.Name)
		counts[pattern]++
		leaf := n.Name
		if idx := strings.LastIndex(leaf, "::"); idx >= 0 {
			leaf = leaf[idx+2:]
		}
		if parts := strings.SplitN(leaf, "_", 2); len(parts) == 2 {
			prefixCounts[parts[0]]++
		}
		if idx := strings.LastIndex(leaf, "_"); idx >= 0 {
			suffixCounts[leaf[idx+1:]]++
		}
	}

	dominant, dominantCount := "mixed", 0
	for pattern, c := range counts {
		if c > dominantCount {
			dominant, dominantCount = pattern, c
		}
	}
	total := len(nodes)
	adherence := 0.0
	if total > 0 {
		adherence = roundTo(float64(dominantCount)/float64(total), 3)
	}

	return map[string]interface{}{
		"dominant_pattern": dominant,
		"adherence_rate":   adherence,
		"sample_size":      total,
		"top_prefixes":     topN(prefixCounts, 10),
		"top_suffixes":     topN(suffixCounts, 10),
	}
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	items := make([]kv, 0, len(counts))
	for k, v := range counts {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v != items[j].v {
			return items[i].v > items[j].v
		}
		return items[i].k < items[j].k
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.k
	}
	return out
}

var testFrameworkMarkers = map[string][]string{
	"testify": {"github.com/stretchr/testify"},
	"pytest":  {"import pytest", "pytest.fixture"},
	"jest":    {"from 'jest'", "describe(", "expect("},
	"junit":   {"org.junit", "@Test"},
	"rspec":   {"RSpec.describe"},
	"go_test": {"func Test", "testing.T"},
}

func (a *ConventionAnalyzer) analyzeTesting(files []*entity.Node) map[string]interface{} {
	testFiles, sourceFiles := 0, 0
	coLocated, inTestDir := 0, 0
	frameworkCounts := map[string]int{}

	for _, f := range files {
		content, _ := f.Metadata["content"].(string)
		if isTestFile(f.Name) {
			testFiles++
			for _, seg := range strings.Split(f.Name, "/") {
				if seg == "tests" || seg == "test" || seg == "__tests__" {
					inTestDir++
					break
				}
			}
			if src := sourceFromTest(f.Name); src != "" {
				coLocated++
			}
			for framework, markers := range testFrameworkMarkers {
				for _, marker := range markers {
					if strings.Contains(content, marker) {
						frameworkCounts[framework]++
						break
					}
				}
			}
		} else {
			sourceFiles++
		}
	}

	framework, frameworkCount := "unknown", 0
	for fw, c := range frameworkCounts {
		if c > frameworkCount {
			framework, frameworkCount = fw, c
		}
	}
	layout := "co-located"
	if inTestDir > coLocated {
		layout = "tests-directory"
	}
	ratio := 0.0
	if testFiles > 0 {
		ratio = roundTo(float64(sourceFiles)/float64(testFiles), 3)
	}

	return map[string]interface{}{
		"framework":            framework,
		"layout":               layout,
		"test_file_count":      testFiles,
		"source_file_count":    sourceFiles,
		"source_to_test_ratio": ratio,
	}
}

var errorSignals = []string{
	"?", ".unwrap()", "Result<", "try:", "except", "raise ",
	"try {", "catch", "throw ", "if err != nil",
}

func (a *ConventionAnalyzer) analyzeErrorHandling(files []*entity.Node) map[string]interface{} {
	counts := make(map[string]int, len(errorSignals))
	for _, f := range files {
		content, _ := f.Metadata["content"].(string)
		if content == "" {
			continue
		}
		for _, sig := range errorSignals {
			if c := strings.Count(content, sig); c > 0 {
				counts[sig] += c
			}
		}
	}
	dominant, dominantCount := "", 0
	for sig, c := range counts {
		if c > dominantCount {
			dominant, dominantCount = sig, c
		}
	}
	return map[string]interface{}{
		"signal_counts":   counts,
		"dominant_signal": dominant,
		"dominant_count":  dominantCount,
	}
}

func (a *ConventionAnalyzer) analyzeDocumentationStyle(ctx context.Context, st store.Store, files []*entity.Node) (map[string]interface{}, error) {
	docEdges, err := st.GetEdgesByKind(ctx, entity.EdgeDocuments)
	if err != nil {
		return nil, fmt.Errorf("load Documents edges: %w", err)
	}
	documented := make(map[entity.NodeId]bool)
	hasParams, hasReturns, hasExamples := 0, 0, 0
	for _, h := range docEdges {
		for _, id := range h.RoleNodeIDs("subject") {
			documented[id] = true
		}
		if v, ok := h.Metadata["has_params"].(bool); ok && v {
			hasParams++
		}
		if v, ok := h.Metadata["has_returns"].(bool); ok && v {
			hasReturns++
		}
		if v, ok := h.Metadata["has_examples"].(bool); ok && v {
			hasExamples++
		}
	}

	coveredFiles := 0
	for _, f := range files {
		if documented[f.ID] {
			coveredFiles++
		}
	}
	coverage := 0.0
	if len(files) > 0 {
		coverage = roundTo(float64(coveredFiles)/float64(len(files)), 3)
	}

	return map[string]interface{}{
		"coverage":           coverage,
		"documented_count":   coveredFiles,
		"total_count":        len(files),
		"has_params_count":   hasParams,
		"has_returns_count":  hasReturns,
		"has_examples_count": hasExamples,
	}, nil
}

// validateAgentRules cross-checks each AgentRule node's content against the
// detected dominant naming pattern, flagging rules that name a different
// convention than what the codebase actually follows.
func (a *ConventionAnalyzer) validateAgentRules(ctx context.Context, st store.Store, dominant string) (map[string]interface{}, error) {
	rules, err := st.FindNodes(ctx, entity.NodeFilter{Kind: entity.NodeAgentRule, HasKind: true})
	if err != nil {
		return nil, fmt.Errorf("load agent rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	namingMentions := map[string]string{
		"snake_case":           "snake_case",
		"snake case":           "snake_case",
		"camelCase":            "camelCase",
		"camel case":           "camelCase",
		"PascalCase":           "PascalCase",
		"pascal case":          "PascalCase",
		"SCREAMING_SNAKE_CASE": "SCREAMING_SNAKE_CASE",
	}

	consistent, inconsistent := 0, 0
	var conflicts []string
	for _, rule := range rules {
		content, _ := rule.Metadata["content"].(string)
		for phrase, pattern := range namingMentions {
			if strings.Contains(content, phrase) {
				if pattern == dominant {
					consistent++
				} else {
					inconsistent++
					conflicts = append(conflicts, rule.Name)
				}
				break
			}
		}
	}

	return map[string]interface{}{
		"rules_checked":      len(rules),
		"consistent_rules":   consistent,
		"inconsistent_rules": inconsistent,
		"conflicting_rules":  conflicts,
	}, nil
}
