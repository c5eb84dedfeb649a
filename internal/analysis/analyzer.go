// Package analysis is the behavioral, structural, and temporal analysis
// engine: a set of analyzers that read the persistent store's hypergraph
// projection and write back analysis records (and, for co-change and
// community detection, hyperedges). Every analyzer is re-entrant and
// idempotent modulo its computed-at timestamp.
package analysis

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/store"
)

// Analyzer is one pass of the engine: a named unit of work declaring which
// analysis kinds it produces and which it requires to already be present.
type Analyzer interface {
	Name() string
	Produces() []entity.AnalysisKind
	Requires() []entity.AnalysisKind
	Analyze(ctx context.Context, st store.Store) (entity.AnalyzeStats, error)
}

// Run executes analyzers in dependency order (a topological sort over the
// Produces/Requires relation) and returns one AnalyzeStats per analyzer, in
// run order. A cycle in the declared dependencies is a configuration bug and
// is reported as an error rather than silently picking an order.
func Run(ctx context.Context, st store.Store, logger *logrus.Logger, analyzers []Analyzer) ([]entity.AnalyzeStats, error) {
	if logger == nil {
		logger = logrus.New()
	}
	ordered, err := topoSort(analyzers)
	if err != nil {
		return nil, err
	}

	stats := make([]entity.AnalyzeStats, 0, len(ordered))
	for _, a := range ordered {
		logger.WithField("analyzer", a.Name()).Info("running analyzer")
		s, err := a.Analyze(ctx, st)
		if err != nil {
			return stats, fmt.Errorf("analyzer %q: %w", a.Name(), err)
		}
		if len(s.Errors) > 0 {
			logger.WithFields(logrus.Fields{"analyzer": a.Name(), "failed_items": len(s.Errors)}).Warn("analyzer completed with per-item failures")
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// topoSort orders analyzers so that every kind in an analyzer's Requires()
// has already been produced by an earlier analyzer in the returned order.
// Analyzers whose requirements nothing in the set produces are treated as
// already satisfied (the kind is assumed present from a prior run).
func topoSort(analyzers []Analyzer) ([]Analyzer, error) {
	producedBy := make(map[entity.AnalysisKind]int)
	for i, a := range analyzers {
		for _, k := range a.Produces() {
			producedBy[k] = i
		}
	}

	var order []Analyzer
	visited := make([]uint8, len(analyzers)) // 0=unvisited 1=visiting 2=done
	var visit func(i int) error
	visit = func(i int) error {
		switch visited[i] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("analysis dependency cycle involving %q", analyzers[i].Name())
		}
		visited[i] = 1
		for _, req := range analyzers[i].Requires() {
			if dep, ok := producedBy[req]; ok && dep != i {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		visited[i] = 2
		order = append(order, analyzers[i])
		return nil
	}

	for i := range analyzers {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
