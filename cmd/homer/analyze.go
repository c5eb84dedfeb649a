package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/homergraph/internal/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the behavioral and graph analysis suite over the stored hypergraph",
	Long: `Runs every registered analyzer in dependency order: behavioral stats
(bus factor, co-change mining, documentation freshness), centrality (PageRank,
HITS, Brandes betweenness, composite salience), community detection
(multi-level Louvain), temporal trend and drift tracking, convention mining,
and task-pattern mining.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSlice("only", nil, "restrict to these analyzer names")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	only, _ := cmd.Flags().GetStringSlice("only")
	analyzers := selectAnalyzers(only)
	if len(analyzers) == 0 {
		return fmt.Errorf("no analyzers selected")
	}

	started := time.Now()
	stats, err := analysis.Run(ctx, st, logger, analyzers)
	if err != nil {
		return fmt.Errorf("analysis run failed: %w", err)
	}

	for _, s := range stats {
		fmt.Printf("%-16s nodes_written=%-6d errors=%d\n", s.AnalyzerName, s.NodesWritten, len(s.Errors))
	}
	fmt.Printf("completed %d analyzers in %s\n", len(stats), time.Since(started).Round(time.Millisecond))
	return nil
}

// selectAnalyzers returns the full suite, or the subset named by only.
func selectAnalyzers(only []string) []analysis.Analyzer {
	all := []analysis.Analyzer{
		&analysis.BehavioralAnalyzer{},
		&analysis.CentralityAnalyzer{},
		&analysis.CommunityAnalyzer{},
		&analysis.TemporalAnalyzer{},
		&analysis.ConventionAnalyzer{},
		&analysis.TaskPatternAnalyzer{},
	}
	if len(only) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	var filtered []analysis.Analyzer
	for _, a := range all {
		if wanted[a.Name()] {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
