package scopegraph

// ResolvedReference is a reference (push node) successfully path-stitched
// to a definition (pop node).
type ResolvedReference struct {
	ReferenceNode  NodeId
	DefinitionNode NodeId
	Symbol         string
	Kind           string
	ReferenceFile  string
	DefinitionFile string
	Confidence     float64
}

// partialPath tracks one in-flight BFS branch: the symbol stack accumulated
// since the starting reference, the current node, and the visited set used
// for cycle rejection within this branch.
type partialPath struct {
	stack   []string
	current NodeId
	visited map[NodeId]bool
}

func (p partialPath) cloneStack() []string {
	out := make([]string, len(p.stack))
	copy(out, p.stack)
	return out
}

func (p partialPath) cloneVisited() map[NodeId]bool {
	out := make(map[NodeId]bool, len(p.visited)+1)
	for k := range p.visited {
		out[k] = true
	}
	return out
}

// ResolveAll resolves every push-symbol reference in the graph.
func (g *Graph) ResolveAll() []ResolvedReference {
	var results []ResolvedReference
	for _, push := range g.PushNodes() {
		results = append(results, g.resolveReference(push)...)
	}
	return results
}

// resolveReference runs a bounded BFS from a single reference node,
// following graph edges and jumping file boundaries at import scopes via
// the global export index. A branch resolves when its symbol stack empties
// exactly at a pop-symbol node.
func (g *Graph) resolveReference(push Node) []ResolvedReference {
	if push.Kind != KindPushSymbol {
		return nil
	}
	symbol := push.Symbol

	var results []ResolvedReference
	queue := []partialPath{{
		stack:   []string{symbol},
		current: push.ID,
		visited: map[NodeId]bool{push.ID: true},
	}}

	maxSteps := 100 * maxInt(1, g.NodeCount())
	steps := 0

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		steps++
		if steps > maxSteps {
			break
		}

		if node, ok := g.nodes[path.current]; ok && len(path.stack) == 0 && node.Kind == KindPopSymbol {
			results = append(results, ResolvedReference{
				ReferenceNode:  push.ID,
				DefinitionNode: node.ID,
				Symbol:         symbol,
				Kind:           node.SymbolKind,
				ReferenceFile:  push.FilePath,
				DefinitionFile: node.FilePath,
				Confidence:     1.0,
			})
			continue
		}

		for _, edge := range g.EdgesFrom(path.current) {
			if path.visited[edge.Target] {
				continue
			}
			target, ok := g.nodes[edge.Target]
			if !ok {
				continue
			}

			newStack, valid := stepStack(path.stack, target)
			if !valid {
				continue
			}

			visited := path.cloneVisited()
			visited[edge.Target] = true
			queue = append(queue, partialPath{stack: newStack, current: edge.Target, visited: visited})
		}

		// Cross-file jump: at an import scope with an unresolved top symbol,
		// try every matching export in the global index.
		if node, ok := g.nodes[path.current]; ok && node.Kind == KindImportScope && len(path.stack) > 0 {
			top := path.stack[len(path.stack)-1]
			for _, exportID := range g.exports[top] {
				if path.visited[exportID] {
					continue
				}
				newStack := path.cloneStack()
				newStack = newStack[:len(newStack)-1]

				visited := path.cloneVisited()
				visited[exportID] = true
				queue = append(queue, partialPath{stack: newStack, current: exportID, visited: visited})
			}
		}
	}

	return results
}

// stepStack applies one node's symbol-stack effect: a push node extends the
// stack, a pop node requires the top of the stack to match (mismatch
// rejects the branch), and any other node kind passes the stack through
// unchanged.
func stepStack(stack []string, node Node) (next []string, valid bool) {
	switch node.Kind {
	case KindPushSymbol:
		out := make([]string, len(stack)+1)
		copy(out, stack)
		out[len(stack)] = node.Symbol
		return out, true
	case KindPopSymbol:
		if len(stack) == 0 || stack[len(stack)-1] != node.Symbol {
			return nil, false
		}
		return stack[:len(stack)-1], true
	default: // Scope, Root, ExportScope, ImportScope
		out := make([]string, len(stack))
		copy(out, stack)
		return out, true
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
