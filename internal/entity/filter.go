package entity

// NodeFilter composes node lookups by kind, name prefix, name substring,
// and a max-result limit.
type NodeFilter struct {
	Kind          NodeKind
	HasKind       bool
	NamePrefix    string
	NameSubstring string
	Limit         int
}

// SubgraphFilterTag discriminates the SubgraphFilter union.
type SubgraphFilterTag string

const (
	FilterFull         SubgraphFilterTag = "Full"
	FilterOfKind       SubgraphFilterTag = "OfKind"
	FilterModule       SubgraphFilterTag = "Module"
	FilterHighSalience SubgraphFilterTag = "HighSalience"
	FilterNeighborhood SubgraphFilterTag = "Neighborhood"
	FilterAnd          SubgraphFilterTag = "And"
)

// SubgraphFilter is a serializable discriminated union selecting a subset
// of the graph for load_call_graph / load_import_graph.
type SubgraphFilter struct {
	Tag SubgraphFilterTag

	// OfKind
	Kinds []NodeKind

	// Module
	PathPrefix string

	// HighSalience
	MinScore float64

	// Neighborhood
	Centers []NodeId
	Hops    int

	// And
	Filters []SubgraphFilter
}

// Full returns the filter selecting every node.
func Full() SubgraphFilter { return SubgraphFilter{Tag: FilterFull} }

// OfKind returns a filter selecting nodes of the given kinds.
func OfKind(kinds ...NodeKind) SubgraphFilter {
	return SubgraphFilter{Tag: FilterOfKind, Kinds: kinds}
}

// Module returns a filter selecting nodes whose path has the given prefix.
func Module(pathPrefix string) SubgraphFilter {
	return SubgraphFilter{Tag: FilterModule, PathPrefix: pathPrefix}
}

// HighSalience returns a filter selecting nodes at or above a minimum
// composite salience score.
func HighSalience(minScore float64) SubgraphFilter {
	return SubgraphFilter{Tag: FilterHighSalience, MinScore: minScore}
}

// Neighborhood returns a filter selecting nodes reachable from the given
// centers within hops, via undirected BFS over the projected graph.
func Neighborhood(centers []NodeId, hops int) SubgraphFilter {
	return SubgraphFilter{Tag: FilterNeighborhood, Centers: centers, Hops: hops}
}

// And returns the intersection of the given filters. An empty input yields
// the full set.
func And(filters ...SubgraphFilter) SubgraphFilter {
	if len(filters) == 0 {
		return Full()
	}
	return SubgraphFilter{Tag: FilterAnd, Filters: filters}
}
