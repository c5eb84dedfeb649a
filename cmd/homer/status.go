package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/homergraph/internal/entity"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store configuration and node/edge counts",
	RunE:  runStatus,
}

var statusNodeKinds = []entity.NodeKind{
	entity.NodeFile, entity.NodeFunction, entity.NodeType, entity.NodeModule,
	entity.NodeCommit, entity.NodePullRequest, entity.NodeIssue, entity.NodeContributor,
	entity.NodeRelease, entity.NodeConcept, entity.NodeExternalDep, entity.NodeDocument,
	entity.NodePrompt, entity.NodeAgentRule, entity.NodeAgentSession,
}

var statusEdgeKinds = []entity.EdgeKind{
	entity.EdgeModifies, entity.EdgeImports, entity.EdgeCalls, entity.EdgeInherits,
	entity.EdgeResolves, entity.EdgeAuthored, entity.EdgeReviewed, entity.EdgeIncludes,
	entity.EdgeBelongsTo, entity.EdgeDependsOn, entity.EdgeAliases, entity.EdgeDocuments,
	entity.EdgePromptReferences, entity.EdgePromptModifiedFiles, entity.EdgeRelatedPrompts,
	entity.EdgeCoChanges, entity.EdgeClusterMembers, entity.EdgeEncompasses,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Printf("homergraph status\n%s\n\n", strings.Repeat("-", 40))
	fmt.Printf("storage: %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "postgres" {
		fmt.Printf("dsn:     %s\n", maskDSN(cfg.Storage.PostgresDSN))
	} else {
		fmt.Printf("path:    %s\n", cfg.Storage.SQLitePath)
	}
	fmt.Printf("depth:   %s\n\n", cfg.AnalysisDepth)

	st, err := openStore()
	if err != nil {
		fmt.Printf("store: not reachable (%v)\n", err)
		return nil
	}
	defer st.Close()

	fmt.Println("nodes:")
	total := 0
	for _, k := range statusNodeKinds {
		nodes, err := st.FindNodes(ctx, entity.NodeFilter{Kind: k, HasKind: true})
		if err != nil {
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		fmt.Printf("  %-16s %d\n", k, len(nodes))
		total += len(nodes)
	}
	fmt.Printf("  %-16s %d\n\n", "total", total)

	fmt.Println("edges:")
	for _, k := range statusEdgeKinds {
		edges, err := st.GetEdgesByKind(ctx, k)
		if err != nil {
			continue
		}
		if len(edges) == 0 {
			continue
		}
		fmt.Printf("  %-20s %d\n", k, len(edges))
	}

	return nil
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return "(unset)"
	}
	if idx := strings.Index(dsn, "@"); idx >= 0 {
		return "***" + dsn[idx:]
	}
	return "***"
}
