// Package entity holds the typed hypergraph data model: nodes, hyperedges,
// analysis results, snapshots, subgraph filters, and the in-memory directed
// graph projection used by the analysis engine. Discriminants are stable
// human-readable strings so stored data tolerates additions to the kind
// enumerations.
package entity

// NodeKind is a closed enumeration of the entity's top-level concepts.
type NodeKind string

const (
	NodeFile         NodeKind = "File"
	NodeFunction     NodeKind = "Function"
	NodeType         NodeKind = "Type"
	NodeModule       NodeKind = "Module"
	NodeCommit       NodeKind = "Commit"
	NodePullRequest  NodeKind = "PullRequest"
	NodeIssue        NodeKind = "Issue"
	NodeContributor  NodeKind = "Contributor"
	NodeRelease      NodeKind = "Release"
	NodeConcept      NodeKind = "Concept"
	NodeExternalDep  NodeKind = "ExternalDep"
	NodeDocument     NodeKind = "Document"
	NodePrompt       NodeKind = "Prompt"
	NodeAgentRule    NodeKind = "AgentRule"
	NodeAgentSession NodeKind = "AgentSession"
)

// ValidNodeKinds lists every closed NodeKind value, used by store-side
// validation and test fixtures.
var ValidNodeKinds = []NodeKind{
	NodeFile, NodeFunction, NodeType, NodeModule, NodeCommit,
	NodePullRequest, NodeIssue, NodeContributor, NodeRelease,
	NodeConcept, NodeExternalDep, NodeDocument, NodePrompt,
	NodeAgentRule, NodeAgentSession,
}

// EdgeKind is a closed enumeration of hyperedge relation types.
type EdgeKind string

const (
	EdgeModifies             EdgeKind = "Modifies"
	EdgeImports              EdgeKind = "Imports"
	EdgeCalls                EdgeKind = "Calls"
	EdgeInherits             EdgeKind = "Inherits"
	EdgeResolves             EdgeKind = "Resolves"
	EdgeAuthored             EdgeKind = "Authored"
	EdgeReviewed             EdgeKind = "Reviewed"
	EdgeIncludes             EdgeKind = "Includes"
	EdgeBelongsTo            EdgeKind = "BelongsTo"
	EdgeDependsOn            EdgeKind = "DependsOn"
	EdgeAliases              EdgeKind = "Aliases"
	EdgeDocuments            EdgeKind = "Documents"
	EdgePromptReferences     EdgeKind = "PromptReferences"
	EdgePromptModifiedFiles  EdgeKind = "PromptModifiedFiles"
	EdgeRelatedPrompts       EdgeKind = "RelatedPrompts"
	EdgeCoChanges            EdgeKind = "CoChanges"
	EdgeClusterMembers       EdgeKind = "ClusterMembers"
	EdgeEncompasses          EdgeKind = "Encompasses"
)

// ValidEdgeKinds lists every closed EdgeKind value.
var ValidEdgeKinds = []EdgeKind{
	EdgeModifies, EdgeImports, EdgeCalls, EdgeInherits, EdgeResolves,
	EdgeAuthored, EdgeReviewed, EdgeIncludes, EdgeBelongsTo, EdgeDependsOn,
	EdgeAliases, EdgeDocuments, EdgePromptReferences, EdgePromptModifiedFiles,
	EdgeRelatedPrompts, EdgeCoChanges, EdgeClusterMembers, EdgeEncompasses,
}

// AnalysisKind is a closed enumeration of the analysis record kinds an
// analyzer can produce or require.
type AnalysisKind string

const (
	// Behavioral
	AnalysisChangeFrequency          AnalysisKind = "ChangeFrequency"
	AnalysisChurnVelocity            AnalysisKind = "ChurnVelocity"
	AnalysisContributorConcentration AnalysisKind = "ContributorConcentration"
	AnalysisDocumentationCoverage    AnalysisKind = "DocumentationCoverage"
	AnalysisDocumentationFreshness   AnalysisKind = "DocumentationFreshness"
	AnalysisPromptHotspot            AnalysisKind = "PromptHotspot"
	AnalysisCorrectionHotspot        AnalysisKind = "CorrectionHotspot"

	// Centrality
	AnalysisPageRank           AnalysisKind = "PageRank"
	AnalysisBetweennessCentrality AnalysisKind = "BetweennessCentrality"
	AnalysisHITSScore          AnalysisKind = "HITSScore"
	AnalysisCompositeSalience  AnalysisKind = "CompositeSalience"

	// Community
	AnalysisCommunityAssignment     AnalysisKind = "CommunityAssignment"
	AnalysisStabilityClassification AnalysisKind = "StabilityClassification"

	// Temporal
	AnalysisCentralityTrend  AnalysisKind = "CentralityTrend"
	AnalysisArchitecturalDrift AnalysisKind = "ArchitecturalDrift"

	// Convention
	AnalysisNamingPattern            AnalysisKind = "NamingPattern"
	AnalysisTestingPattern           AnalysisKind = "TestingPattern"
	AnalysisErrorHandlingPattern     AnalysisKind = "ErrorHandlingPattern"
	AnalysisDocumentationStylePattern AnalysisKind = "DocumentationStylePattern"
	AnalysisAgentRuleValidation      AnalysisKind = "AgentRuleValidation"

	// Agent / task pattern
	AnalysisTaskPattern      AnalysisKind = "TaskPattern"
	AnalysisDomainVocabulary AnalysisKind = "DomainVocabulary"

	// Semantic (produced by external collaborators, stored here)
	AnalysisSemanticSummary     AnalysisKind = "SemanticSummary"
	AnalysisDesignRationale     AnalysisKind = "DesignRationale"
	AnalysisInvariantDescription AnalysisKind = "InvariantDescription"
)
