package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/homergraph/internal/entity"
)

// migrate brings a possibly-preexisting database up to currentSchemaVersion.
// Idempotent: running it against an already-current database is a no-op.
// The only upgrade path implemented is the one the store's own history
// produced — hyperedges tables written before identity_key existed, keyed
// only by an internal rowid and prone to accumulating duplicate edges for
// the same (kind, members) pair.
func migrate(ctx context.Context, db *sqlx.DB) error {
	hasIdentity, err := columnExists(ctx, db, "hyperedges", "identity_key")
	if err != nil {
		return fmt.Errorf("inspect hyperedges schema: %w", err)
	}
	if !hasIdentity {
		// Legacy database: schema.go's CREATE TABLE IF NOT EXISTS left the
		// old hyperedges table in place without the column.
		if _, err := db.ExecContext(ctx, `ALTER TABLE hyperedges ADD COLUMN identity_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add identity_key column: %w", err)
		}
		if err := backfillIdentityAndDedupe(ctx, db); err != nil {
			return err
		}
	}

	var version int
	err = db.GetContext(ctx, &version, `SELECT version FROM schema_version LIMIT 1`)
	if err != nil {
		if _, execErr := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); execErr != nil {
			return fmt.Errorf("seed schema_version: %w", execErr)
		}
		return nil
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if err := backfillIdentityAndDedupe(ctx, db); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `UPDATE schema_version SET version = ?`, currentSchemaVersion); err != nil {
		return fmt.Errorf("bump schema_version: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, db *sqlx.DB, table, column string) (bool, error) {
	rows, err := db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return false, err
		}
		if name, ok := row["name"].(string); ok && name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// backfillIdentityAndDedupe recomputes identity_key for every hyperedge row
// missing one, then collapses duplicates sharing an identity, keeping the
// row with the highest id and deleting the rest. Dependent rows are not
// re-pointed at the survivor: the deleted rows' hyperedge_members go with
// them by cascade, and snapshot_edges keep the old edge ids.
func backfillIdentityAndDedupe(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	type row struct {
		ID   int64  `db:"id"`
		Kind string `db:"kind"`
	}
	var rows []row
	if err := tx.SelectContext(ctx, &rows, `SELECT id, kind FROM hyperedges WHERE identity_key IS NULL OR identity_key = ''`); err != nil {
		return fmt.Errorf("select unbackfilled hyperedges: %w", err)
	}

	for _, r := range rows {
		type member struct {
			NodeID   int64  `db:"node_id"`
			Role     string `db:"role"`
			Position int    `db:"position"`
		}
		var members []member
		if err := tx.SelectContext(ctx, &members, `SELECT node_id, role, position FROM hyperedge_members WHERE edge_id = ? ORDER BY position`, r.ID); err != nil {
			return fmt.Errorf("load members for edge %d: %w", r.ID, err)
		}
		identity := computeIdentity(r.Kind, members)
		if _, err := tx.ExecContext(ctx, `UPDATE hyperedges SET identity_key = ? WHERE id = ?`, identity, r.ID); err != nil {
			return fmt.Errorf("backfill identity for edge %d: %w", r.ID, err)
		}
	}

	// Collapse duplicates: keep the highest-id row per identity_key,
	// delete the rest.
	type dup struct {
		IdentityKey string `db:"identity_key"`
		KeepID      int64  `db:"keep_id"`
	}
	var dups []dup
	query := `
		SELECT identity_key, MAX(id) AS keep_id
		FROM hyperedges
		GROUP BY identity_key
		HAVING COUNT(*) > 1
	`
	if err := tx.SelectContext(ctx, &dups, query); err != nil {
		return fmt.Errorf("find duplicate hyperedges: %w", err)
	}
	for _, d := range dups {
		var loserIDs []int64
		if err := tx.SelectContext(ctx, &loserIDs, `SELECT id FROM hyperedges WHERE identity_key = ? AND id != ?`, d.IdentityKey, d.KeepID); err != nil {
			return fmt.Errorf("find losers for %q: %w", d.IdentityKey, err)
		}
		for _, loser := range loserIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM hyperedges WHERE id = ?`, loser); err != nil {
				return fmt.Errorf("delete duplicate edge %d: %w", loser, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_hyperedges_identity ON hyperedges(identity_key)`); err != nil {
		return fmt.Errorf("create identity uniqueness index: %w", err)
	}

	return tx.Commit()
}

func computeIdentity(kind string, members []struct {
	NodeID   int64  `db:"node_id"`
	Role     string `db:"role"`
	Position int    `db:"position"`
}) string {
	converted := make([]entity.Member, len(members))
	for i, m := range members {
		converted[i] = entity.Member{NodeID: entity.NodeId(m.NodeID), Role: m.Role, Position: m.Position}
	}
	return entity.Identity(entity.EdgeKind(kind), converted)
}
