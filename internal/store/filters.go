package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/homergraph/internal/entity"
)

// resolveFilterNodeIDs evaluates a SubgraphFilter against the backing
// database and an already-projected full graph (needed for Neighborhood,
// which walks the in-memory graph rather than issuing SQL). restrict=false
// means "no restriction, every node passes" (the Full case and the
// identity element of And).
func resolveFilterNodeIDs(ctx context.Context, db *sqlx.DB, filter entity.SubgraphFilter, full *entity.InMemoryGraph) (allowed map[entity.NodeId]bool, restrict bool, err error) {
	switch filter.Tag {
	case entity.FilterFull:
		return nil, false, nil

	case entity.FilterOfKind:
		if len(filter.Kinds) == 0 {
			return map[entity.NodeId]bool{}, true, nil
		}
		query, args, err := sqlx.In(`SELECT id FROM nodes WHERE kind IN (?)`, kindsToStrings(filter.Kinds))
		if err != nil {
			return nil, true, err
		}
		query = db.Rebind(query)
		var ids []int64
		if err := db.SelectContext(ctx, &ids, query, args...); err != nil {
			return nil, true, fmt.Errorf("resolve OfKind filter: %w", err)
		}
		return idsToSet(ids), true, nil

	case entity.FilterModule:
		var ids []int64
		q := db.Rebind(`SELECT id FROM nodes WHERE name LIKE ?`)
		if err := db.SelectContext(ctx, &ids, q, filter.PathPrefix+"%"); err != nil {
			return nil, true, fmt.Errorf("resolve Module filter: %w", err)
		}
		return idsToSet(ids), true, nil

	case entity.FilterHighSalience:
		var ids []int64
		q := db.Rebind(`SELECT node_id FROM analysis_results WHERE kind = ? AND ` + scorePredicate(db.DriverName()) + ` >= ?`)
		if err := db.SelectContext(ctx, &ids, q, string(entity.AnalysisCompositeSalience), filter.MinScore); err != nil {
			return nil, true, fmt.Errorf("resolve HighSalience filter: %w", err)
		}
		return idsToSet(ids), true, nil

	case entity.FilterNeighborhood:
		visited := make(map[entity.NodeId]bool)
		frontier := make([]entity.NodeId, 0, len(filter.Centers))
		for _, c := range filter.Centers {
			if !visited[c] {
				visited[c] = true
				frontier = append(frontier, c)
			}
		}
		for hop := 0; hop < filter.Hops; hop++ {
			var next []entity.NodeId
			for _, n := range frontier {
				for _, neighbor := range full.UndirectedNeighbors(n) {
					if !visited[neighbor] {
						visited[neighbor] = true
						next = append(next, neighbor)
					}
				}
			}
			frontier = next
			if len(frontier) == 0 {
				break
			}
		}
		return visited, true, nil

	case entity.FilterAnd:
		var result map[entity.NodeId]bool
		hasResult := false
		for _, sub := range filter.Filters {
			subAllowed, subRestrict, err := resolveFilterNodeIDs(ctx, db, sub, full)
			if err != nil {
				return nil, true, err
			}
			if !subRestrict {
				continue // identity element, doesn't narrow the set
			}
			if !hasResult {
				result = subAllowed
				hasResult = true
				continue
			}
			result = intersect(result, subAllowed)
		}
		if !hasResult {
			return nil, false, nil
		}
		return result, true, nil

	default:
		return nil, false, nil
	}
}

// scorePredicate returns the dialect-specific SQL fragment for reading the
// "score" key out of the payload column: SQLite stores it as JSON-in-TEXT,
// Postgres as native JSONB.
func scorePredicate(driverName string) string {
	if driverName == "pgx" {
		return `(payload->>'score')::double precision`
	}
	return `json_extract(payload, '$.score')`
}

func kindsToStrings(kinds []entity.NodeKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func idsToSet(ids []int64) map[entity.NodeId]bool {
	out := make(map[entity.NodeId]bool, len(ids))
	for _, id := range ids {
		out[entity.NodeId(id)] = true
	}
	return out
}

func intersect(a, b map[entity.NodeId]bool) map[entity.NodeId]bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	out := make(map[entity.NodeId]bool, len(small))
	for id := range small {
		if large[id] {
			out[id] = true
		}
	}
	return out
}

// filterEdges keeps only hyperedges whose projected endpoints both pass the
// resolved allow-set. A nil allowed map (restrict=false) keeps everything.
func filterEdges(edges []*entity.Hyperedge, allowed map[entity.NodeId]bool, restrict bool) []*entity.Hyperedge {
	if !restrict {
		return edges
	}
	out := make([]*entity.Hyperedge, 0, len(edges))
	for _, h := range edges {
		src, dst, ok := entity.ProjectEdge(h)
		if !ok {
			continue
		}
		if allowed[src] && allowed[dst] {
			out = append(out, h)
		}
	}
	return out
}
