package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/errors"
)

// postgresSchema mirrors schema.go's SQLite DDL in Postgres dialect: JSONB
// instead of TEXT-as-json, BIGSERIAL instead of AUTOINCREMENT.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS nodes (
    id BIGSERIAL PRIMARY KEY,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    last_extracted TIMESTAMPTZ NOT NULL DEFAULT now(),
    metadata JSONB NOT NULL DEFAULT '{}',
    UNIQUE (kind, name)
);
CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_last_extracted ON nodes(last_extracted);

CREATE TABLE IF NOT EXISTS hyperedges (
    id BIGSERIAL PRIMARY KEY,
    kind TEXT NOT NULL,
    identity_key TEXT NOT NULL UNIQUE,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0 CHECK(confidence >= 0 AND confidence <= 1),
    last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
    metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_hyperedges_kind ON hyperedges(kind);

CREATE TABLE IF NOT EXISTS hyperedge_members (
    edge_id BIGINT NOT NULL REFERENCES hyperedges(id) ON DELETE CASCADE,
    node_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    position INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_members_edge ON hyperedge_members(edge_id);
CREATE INDEX IF NOT EXISTS idx_members_node ON hyperedge_members(node_id);

CREATE TABLE IF NOT EXISTS analysis_results (
    id BIGSERIAL PRIMARY KEY,
    node_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}',
    input_hash TEXT NOT NULL DEFAULT '',
    computed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (node_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_analysis_kind ON analysis_results(kind);

CREATE TABLE IF NOT EXISTS checkpoints (
    kind TEXT PRIMARY KEY,
    token TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    id BIGSERIAL PRIMARY KEY,
    label TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    node_count INT NOT NULL DEFAULT 0,
    edge_count INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snapshot_nodes (
    snapshot_id BIGINT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    node_id BIGINT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    source_file TEXT NOT NULL DEFAULT '',
    source_row INT NOT NULL DEFAULT 0,
    PRIMARY KEY (snapshot_id, node_id)
);

CREATE TABLE IF NOT EXISTS snapshot_edges (
    snapshot_id BIGINT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    edge_id BIGINT NOT NULL,
    PRIMARY KEY (snapshot_id, edge_id)
);

CREATE TABLE IF NOT EXISTS fulltext_index (
    node_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    content_type TEXT NOT NULL,
    content TEXT NOT NULL,
    PRIMARY KEY (node_id, content_type)
);
`

// PostgresStore is the alternate Store backend for multi-process
// deployments where SQLite's single-file model doesn't fit. Queries are
// written with '?' placeholders and rebound per-driver via sqlx, so nearly
// all SQL here is identical in shape to SQLiteStore; the two differ in
// schema DDL, connection setup, and the JSONB stale/salience predicates.
type PostgresStore struct {
	db     *sqlx.DB
	fts    *ftsIndex
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewPostgresStore opens a connection pool against dsn via pgx's
// database/sql driver shim, and a sibling bleve index at ftsPath.
func NewPostgresStore(dsn, ftsPath string, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, errors.BackendIOError(err, "open postgres connection")
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, errors.BackendIOError(err, "initialize postgres schema")
	}

	fts, err := openFTSIndex(ftsPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db, fts: fts, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ftsErr := s.fts.close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return errors.BackendIOError(dbErr, "close postgres connection")
	}
	if ftsErr != nil {
		return errors.BackendIOError(ftsErr, "close fulltext index")
	}
	return nil
}

// --- nodes ---

func (s *PostgresStore) UpsertNode(ctx context.Context, n *entity.Node) (entity.NodeId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertNode(ctx, s.db, n)
}

func (s *PostgresStore) upsertNode(ctx context.Context, ext execer, n *entity.Node) (entity.NodeId, error) {
	metaJSON, err := encodeMetadata(n.Metadata)
	if err != nil {
		return 0, err
	}
	lastExtracted := n.LastExtracted
	if lastExtracted.IsZero() {
		lastExtracted = time.Now().UTC()
	}
	const q = `
		INSERT INTO nodes (kind, name, content_hash, last_extracted, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, name) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_extracted = excluded.last_extracted,
			metadata = excluded.metadata
		RETURNING id
	`
	rebound := ext.Rebind(q)
	var id int64
	row := ext.QueryRowxContext(ctx, rebound, string(n.Kind), n.Name, n.ContentHash, lastExtracted, metaJSON)
	if err := row.Scan(&id); err != nil {
		return 0, errors.BackendIOError(err, "upsert node")
	}
	return entity.NodeId(id), nil
}

func (s *PostgresStore) GetNode(ctx context.Context, id entity.NodeId) (*entity.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, `SELECT id, kind, name, content_hash, last_extracted, metadata::text AS metadata FROM nodes WHERE id = $1`, int64(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIOError(err, "get node")
	}
	return row.toEntity()
}

func (s *PostgresStore) GetNodeByName(ctx context.Context, kind entity.NodeKind, name string) (*entity.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, `SELECT id, kind, name, content_hash, last_extracted, metadata::text AS metadata FROM nodes WHERE kind = $1 AND name = $2`, string(kind), name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIOError(err, "get node by name")
	}
	return row.toEntity()
}

func (s *PostgresStore) FindNodes(ctx context.Context, filter entity.NodeFilter) ([]*entity.Node, error) {
	q := `SELECT id, kind, name, content_hash, last_extracted, metadata::text AS metadata FROM nodes WHERE 1=1`
	var args []interface{}
	if filter.HasKind {
		q += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.NamePrefix != "" {
		q += ` AND name LIKE ?`
		args = append(args, filter.NamePrefix+"%")
	}
	if filter.NameSubstring != "" {
		q += ` AND name LIKE ?`
		args = append(args, "%"+filter.NameSubstring+"%")
	}
	q += ` ORDER BY id`
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	q = s.db.Rebind(q)

	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.BackendIOError(err, "find nodes")
	}
	out := make([]*entity.Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *PostgresStore) UpsertNodesBatch(ctx context.Context, nodes []*entity.Node) ([]entity.NodeId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.BackendIOError(err, "begin batch node upsert")
	}
	defer tx.Rollback()

	ids := make([]entity.NodeId, 0, len(nodes))
	for i, n := range nodes {
		id, err := s.upsertNode(ctx, tx, n)
		if err != nil {
			return nil, fmt.Errorf("batch upsert node %d (%s/%s): %w", i, n.Kind, n.Name, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.BackendIOError(err, "commit batch node upsert")
	}
	return ids, nil
}

func (s *PostgresStore) MarkNodeStale(ctx context.Context, id entity.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}
	if node.Metadata == nil {
		node.Metadata = map[string]interface{}{}
	}
	node.Metadata["stale"] = true
	metaJSON, err := encodeMetadata(node.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE nodes SET metadata = $1 WHERE id = $2`, metaJSON, int64(id))
	if err != nil {
		return errors.BackendIOError(err, "mark node stale")
	}
	return nil
}

func (s *PostgresStore) DeleteStaleNodes(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE last_extracted < $1
		AND (metadata->>'stale')::boolean IS TRUE
	`, cutoff)
	if err != nil {
		return 0, errors.BackendIOError(err, "sweep stale nodes")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.BackendIOError(err, "count stale sweep")
	}
	return n, nil
}

func (s *PostgresStore) DeleteNode(ctx context.Context, id entity.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, int64(id)); err != nil {
		return errors.BackendIOError(err, "delete node")
	}
	return nil
}

// --- hyperedges ---

func (s *PostgresStore) loadMembers(ctx context.Context, edgeID int64) ([]entity.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, `SELECT node_id, role, position FROM hyperedge_members WHERE edge_id = $1 ORDER BY position`, edgeID)
	if err != nil {
		return nil, errors.BackendIOError(err, "load hyperedge members")
	}
	out := make([]entity.Member, len(rows))
	for i, r := range rows {
		out[i] = entity.Member{NodeID: entity.NodeId(r.NodeID), Role: r.Role, Position: r.Position}
	}
	return out, nil
}

func (s *PostgresStore) hydrateEdge(ctx context.Context, row hyperedgeRow) (*entity.Hyperedge, error) {
	members, err := s.loadMembers(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	meta, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &entity.Hyperedge{
		ID: entity.HyperedgeId(row.ID), Kind: entity.EdgeKind(row.Kind), Members: members,
		Confidence: row.Confidence, LastUpdated: row.LastUpdated, Metadata: meta,
	}, nil
}

func (s *PostgresStore) hydrateAll(ctx context.Context, rows []hyperedgeRow) ([]*entity.Hyperedge, error) {
	out := make([]*entity.Hyperedge, 0, len(rows))
	for _, r := range rows {
		h, err := s.hydrateEdge(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *PostgresStore) UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error) {
	if err := entity.RequireMembers(h.Kind, h.Members); err != nil {
		return 0, errors.ConstraintError(err.Error())
	}
	h.ClampConfidence()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.BackendIOError(err, "begin hyperedge upsert")
	}
	defer tx.Rollback()

	identity := h.Identity()
	metaJSON, err := encodeMetadata(h.Metadata)
	if err != nil {
		return 0, err
	}
	lastUpdated := h.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	const q = `
		INSERT INTO hyperedges (kind, identity_key, confidence, last_updated, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_key) DO UPDATE SET
			confidence = excluded.confidence,
			last_updated = excluded.last_updated,
			metadata = excluded.metadata
		RETURNING id
	`
	var id int64
	row := tx.QueryRowxContext(ctx, q, string(h.Kind), identity, h.Confidence, lastUpdated, metaJSON)
	if err := row.Scan(&id); err != nil {
		return 0, errors.BackendIOError(err, "upsert hyperedge")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM hyperedge_members WHERE edge_id = $1`, id); err != nil {
		return 0, errors.BackendIOError(err, "clear hyperedge members")
	}
	for _, m := range h.Members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO hyperedge_members (edge_id, node_id, role, position) VALUES ($1, $2, $3, $4)`,
			id, int64(m.NodeID), m.Role, m.Position); err != nil {
			return 0, errors.BackendIOError(err, "insert hyperedge member")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.BackendIOError(err, "commit hyperedge upsert")
	}
	return entity.HyperedgeId(id), nil
}

func (s *PostgresStore) GetEdgesInvolving(ctx context.Context, id entity.NodeId) ([]*entity.Hyperedge, error) {
	var rows []hyperedgeRow
	q := `
		SELECT DISTINCT h.id, h.kind, h.confidence, h.last_updated, h.metadata::text AS metadata
		FROM hyperedges h
		JOIN hyperedge_members m ON m.edge_id = h.id
		WHERE m.node_id = $1
		ORDER BY h.id
	`
	if err := s.db.SelectContext(ctx, &rows, q, int64(id)); err != nil {
		return nil, errors.BackendIOError(err, "get edges involving node")
	}
	return s.hydrateAll(ctx, rows)
}

func (s *PostgresStore) GetEdgesByKind(ctx context.Context, kind entity.EdgeKind) ([]*entity.Hyperedge, error) {
	var rows []hyperedgeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, kind, confidence, last_updated, metadata::text AS metadata FROM hyperedges WHERE kind = $1 ORDER BY id`, string(kind)); err != nil {
		return nil, errors.BackendIOError(err, "get edges by kind")
	}
	return s.hydrateAll(ctx, rows)
}

func (s *PostgresStore) GetCoMembers(ctx context.Context, id entity.NodeId, kind entity.EdgeKind) ([]entity.NodeId, error) {
	const q = `
		SELECT DISTINCT m2.node_id
		FROM hyperedge_members m1
		JOIN hyperedges h ON h.id = m1.edge_id
		JOIN hyperedge_members m2 ON m2.edge_id = h.id
		WHERE m1.node_id = $1 AND h.kind = $2 AND m2.node_id != $1
		ORDER BY m2.node_id
	`
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, int64(id), string(kind)); err != nil {
		return nil, errors.BackendIOError(err, "get co-members")
	}
	out := make([]entity.NodeId, len(ids))
	for i, v := range ids {
		out[i] = entity.NodeId(v)
	}
	return out, nil
}

// --- analysis results ---

func (s *PostgresStore) StoreAnalysis(ctx context.Context, r *entity.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := encodeMetadata(r.Payload)
	if err != nil {
		return err
	}
	computedAt := r.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO analysis_results (node_id, kind, payload, input_hash, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (node_id, kind) DO UPDATE SET
			payload = excluded.payload,
			input_hash = excluded.input_hash,
			computed_at = excluded.computed_at
	`
	if _, err := s.db.ExecContext(ctx, q, int64(r.NodeID), string(r.Kind), payloadJSON, r.InputHash, computedAt); err != nil {
		return errors.BackendIOError(err, "store analysis result")
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id entity.NodeId, kind entity.AnalysisKind) (*entity.AnalysisResult, error) {
	var row analysisRow
	err := s.db.GetContext(ctx, &row, `SELECT id, node_id, kind, payload::text AS payload, input_hash, computed_at FROM analysis_results WHERE node_id = $1 AND kind = $2`, int64(id), string(kind))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIOError(err, "get analysis result")
	}
	return row.toEntity()
}

func (s *PostgresStore) GetAnalysesByKind(ctx context.Context, kind entity.AnalysisKind) ([]*entity.AnalysisResult, error) {
	var rows []analysisRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, node_id, kind, payload::text AS payload, input_hash, computed_at FROM analysis_results WHERE kind = $1 ORDER BY node_id`, string(kind)); err != nil {
		return nil, errors.BackendIOError(err, "get analysis results by kind")
	}
	out := make([]*entity.AnalysisResult, 0, len(rows))
	for _, r := range rows {
		a, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// --- invalidation ---

func (s *PostgresStore) InvalidateAnalyses(ctx context.Context, id entity.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE node_id = $1`, int64(id)); err != nil {
		return errors.BackendIOError(err, "invalidate analyses")
	}
	return nil
}

func (s *PostgresStore) InvalidateAnalysesByKinds(ctx context.Context, id entity.NodeId, kinds []entity.AnalysisKind) error {
	if len(kinds) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	query, args, err := sqlx.In(`DELETE FROM analysis_results WHERE node_id = ? AND kind IN (?)`, int64(id), kindsToAnalysisStrings(kinds))
	if err != nil {
		return errors.BackendIOError(err, "build invalidation query")
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.BackendIOError(err, "invalidate analyses by kinds")
	}
	return nil
}

func (s *PostgresStore) InvalidateAllByKinds(ctx context.Context, kinds []entity.AnalysisKind) error {
	if len(kinds) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	query, args, err := sqlx.In(`DELETE FROM analysis_results WHERE kind IN (?)`, kindsToAnalysisStrings(kinds))
	if err != nil {
		return errors.BackendIOError(err, "build invalidation query")
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.BackendIOError(err, "invalidate all by kinds")
	}
	return nil
}

func (s *PostgresStore) InvalidateAnalysesExcludingKinds(ctx context.Context, id entity.NodeId, keep []entity.AnalysisKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keep) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE node_id = $1`, int64(id)); err != nil {
			return errors.BackendIOError(err, "invalidate analyses excluding kinds")
		}
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM analysis_results WHERE node_id = ? AND kind NOT IN (?)`, int64(id), kindsToAnalysisStrings(keep))
	if err != nil {
		return errors.BackendIOError(err, "build invalidation query")
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.BackendIOError(err, "invalidate analyses excluding kinds")
	}
	return nil
}

// --- full text (shared bleve index, identical to SQLiteStore) ---

func (s *PostgresStore) IndexText(ctx context.Context, id entity.NodeId, contentType, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO fulltext_index (node_id, content_type, content) VALUES ($1, $2, $3)
		ON CONFLICT (node_id, content_type) DO UPDATE SET content = excluded.content
	`, int64(id), contentType, content); err != nil {
		return errors.BackendIOError(err, "record fulltext content")
	}
	return s.fts.index(id, contentType, content)
}

func (s *PostgresStore) SearchText(ctx context.Context, query string, scope SearchScope) ([]SearchHit, error) {
	hits, err := s.fts.search(query, scope)
	if err != nil {
		return nil, err
	}
	if len(scope.NodeKinds) == 0 {
		return hits, nil
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, int64(h.NodeID))
	}
	if len(ids) == 0 {
		return nil, nil
	}
	qry, args, err := sqlx.In(`SELECT id FROM nodes WHERE id IN (?) AND kind IN (?)`, ids, kindsToStrings(scope.NodeKinds))
	if err != nil {
		return nil, errors.BackendIOError(err, "scope search by kind")
	}
	qry = s.db.Rebind(qry)
	var matchIDs []int64
	if err := s.db.SelectContext(ctx, &matchIDs, qry, args...); err != nil {
		return nil, errors.BackendIOError(err, "scope search by kind")
	}
	allowed := make(map[entity.NodeId]bool, len(matchIDs))
	for _, id := range matchIDs {
		allowed[entity.NodeId(id)] = true
	}
	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if allowed[h.NodeID] {
			out = append(out, h)
		}
	}
	return out, nil
}

// --- checkpoints ---

func (s *PostgresStore) GetCheckpoint(ctx context.Context, kind string) (string, bool, error) {
	var token string
	err := s.db.GetContext(ctx, &token, `SELECT token FROM checkpoints WHERE kind = $1`, kind)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.BackendIOError(err, "get checkpoint")
	}
	return token, true, nil
}

func (s *PostgresStore) SetCheckpoint(ctx context.Context, kind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (kind, token) VALUES ($1, $2)
		ON CONFLICT (kind) DO UPDATE SET token = excluded.token
	`, kind, token)
	if err != nil {
		return errors.BackendIOError(err, "set checkpoint")
	}
	return nil
}

func (s *PostgresStore) ClearCheckpoint(ctx context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE kind = $1`, kind); err != nil {
		return errors.BackendIOError(err, "clear checkpoint")
	}
	return nil
}

// --- snapshots ---

func (s *PostgresStore) CreateSnapshot(ctx context.Context, label string) (entity.SnapshotId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.BackendIOError(err, "begin snapshot")
	}
	defer tx.Rollback()

	var nodeRows []nodeRow
	if err := tx.SelectContext(ctx, &nodeRows, `SELECT id, kind, name, content_hash, last_extracted, metadata::text AS metadata FROM nodes`); err != nil {
		return 0, errors.BackendIOError(err, "load nodes for snapshot")
	}
	var edgeIDs []int64
	if err := tx.SelectContext(ctx, &edgeIDs, `SELECT id FROM hyperedges`); err != nil {
		return 0, errors.BackendIOError(err, "load edges for snapshot")
	}

	var snapID int64
	row := tx.QueryRowxContext(ctx, `INSERT INTO snapshots (label, node_count, edge_count) VALUES ($1, $2, $3) RETURNING id`, label, len(nodeRows), len(edgeIDs))
	if err := row.Scan(&snapID); err != nil {
		return 0, errors.ConstraintError(fmt.Sprintf("create snapshot %q: %v", label, err))
	}

	for _, n := range nodeRows {
		meta, err := decodeMetadata(n.Metadata)
		if err != nil {
			return 0, err
		}
		sourceFile, _ := meta["source_file"].(string)
		srcRow := 0
		if v, ok := meta["source_row"]; ok {
			srcRow = toIntMeta(v)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_nodes (snapshot_id, node_id, name, source_file, source_row) VALUES ($1, $2, $3, $4, $5)`,
			snapID, n.ID, n.Name, sourceFile, srcRow); err != nil {
			return 0, errors.BackendIOError(err, "write snapshot node")
		}
	}
	for _, eid := range edgeIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_edges (snapshot_id, edge_id) VALUES ($1, $2)`, snapID, eid); err != nil {
			return 0, errors.BackendIOError(err, "write snapshot edge")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.BackendIOError(err, "commit snapshot")
	}
	return entity.SnapshotId(snapID), nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]*entity.Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, label, created_at, node_count, edge_count FROM snapshots ORDER BY created_at`); err != nil {
		return nil, errors.BackendIOError(err, "list snapshots")
	}
	out := make([]*entity.Snapshot, len(rows))
	for i, r := range rows {
		out[i] = &entity.Snapshot{ID: entity.SnapshotId(r.ID), Label: r.Label, CreatedAt: r.CreatedAt, NodeCount: r.NodeCount, EdgeCount: r.EdgeCount}
	}
	return out, nil
}

func (s *PostgresStore) DeleteSnapshot(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE label = $1`, label); err != nil {
		return errors.BackendIOError(err, "delete snapshot")
	}
	return nil
}

func (s *PostgresStore) snapshotByLabel(ctx context.Context, label string) (*entity.Snapshot, []entity.NodeIdentityRow, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT id, label, created_at, node_count, edge_count FROM snapshots WHERE label = $1`, label)
	if err == sql.ErrNoRows {
		return nil, nil, errors.PreconditionError(fmt.Sprintf("snapshot %q does not exist", label))
	}
	if err != nil {
		return nil, nil, errors.BackendIOError(err, "get snapshot")
	}

	type nodeRowLite struct {
		NodeID     int64  `db:"node_id"`
		Name       string `db:"name"`
		SourceFile string `db:"source_file"`
		SourceRow  int    `db:"source_row"`
	}
	var nodeRows []nodeRowLite
	if err := s.db.SelectContext(ctx, &nodeRows, `SELECT node_id, name, source_file, source_row FROM snapshot_nodes WHERE snapshot_id = $1`, row.ID); err != nil {
		return nil, nil, errors.BackendIOError(err, "load snapshot nodes")
	}
	var edgeIDs []int64
	if err := s.db.SelectContext(ctx, &edgeIDs, `SELECT edge_id FROM snapshot_edges WHERE snapshot_id = $1`, row.ID); err != nil {
		return nil, nil, errors.BackendIOError(err, "load snapshot edges")
	}

	nodeIDs := make([]entity.NodeId, len(nodeRows))
	identityRows := make([]entity.NodeIdentityRow, len(nodeRows))
	for i, nr := range nodeRows {
		nodeIDs[i] = entity.NodeId(nr.NodeID)
		identityRows[i] = entity.NodeIdentityRow{NodeID: entity.NodeId(nr.NodeID), Name: nr.Name, SourceFile: nr.SourceFile, SourceRow: nr.SourceRow}
	}
	edges := make([]entity.HyperedgeId, len(edgeIDs))
	for i, e := range edgeIDs {
		edges[i] = entity.HyperedgeId(e)
	}

	snap := &entity.Snapshot{
		ID: entity.SnapshotId(row.ID), Label: row.Label, CreatedAt: row.CreatedAt,
		NodeIDs: nodeIDs, EdgeIDs: edges, NodeCount: row.NodeCount, EdgeCount: row.EdgeCount,
	}
	return snap, identityRows, nil
}

func (s *PostgresStore) GetSnapshotDiff(ctx context.Context, from, to string) (*entity.GraphDiff, error) {
	fromSnap, fromRows, err := s.snapshotByLabel(ctx, from)
	if err != nil {
		return nil, err
	}
	toSnap, toRows, err := s.snapshotByLabel(ctx, to)
	if err != nil {
		return nil, err
	}
	diff := entity.DiffSnapshots(fromSnap, toSnap, fromRows, toRows)
	return &diff, nil
}

// --- subgraph load ---

func (s *PostgresStore) LoadCallGraph(ctx context.Context, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error) {
	return s.loadProjection(ctx, entity.EdgeCalls, filter)
}

func (s *PostgresStore) LoadImportGraph(ctx context.Context, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error) {
	return s.loadProjection(ctx, entity.EdgeImports, filter)
}

func (s *PostgresStore) loadProjection(ctx context.Context, kind entity.EdgeKind, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error) {
	edges, err := s.GetEdgesByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	full := entity.FromEdges(edges)

	allowed, restrict, err := resolveFilterNodeIDs(ctx, s.db, filter, full)
	if err != nil {
		return nil, err
	}
	if !restrict {
		return full, nil
	}
	return entity.FromEdges(filterEdges(edges, allowed, restrict)), nil
}

// --- transactions ---

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.BackendIOError(err, "begin transaction")
	}
	return &unlockingTx{sqlTx: &sqlTx{tx: tx}, unlock: s.mu.Unlock}, nil
}

// --- alias resolution ---

func (s *PostgresStore) resolveOnce(ctx context.Context, id entity.NodeId) (entity.NodeId, bool, error) {
	const q = `
		SELECT m2.node_id
		FROM hyperedge_members m1
		JOIN hyperedges h ON h.id = m1.edge_id
		JOIN hyperedge_members m2 ON m2.edge_id = h.id AND m2.role = 'new'
		WHERE h.kind = $1 AND m1.role = 'old' AND m1.node_id = $2
		LIMIT 1
	`
	var next int64
	err := s.db.GetContext(ctx, &next, q, string(entity.EdgeAliases), int64(id))
	if err == sql.ErrNoRows {
		return id, false, nil
	}
	if err != nil {
		return id, false, errors.BackendIOError(err, "resolve alias step")
	}
	return entity.NodeId(next), true, nil
}

func (s *PostgresStore) ResolveCanonical(ctx context.Context, id entity.NodeId) (entity.NodeId, error) {
	chain, err := s.AliasChain(ctx, id)
	if err != nil {
		return id, err
	}
	if len(chain) == 0 {
		return id, nil
	}
	return chain[len(chain)-1], nil
}

func (s *PostgresStore) ResolveCanonicalBatch(ctx context.Context, ids []entity.NodeId) (map[entity.NodeId]entity.NodeId, error) {
	out := make(map[entity.NodeId]entity.NodeId, len(ids))
	for _, id := range ids {
		canonical, err := s.ResolveCanonical(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = canonical
	}
	return out, nil
}

func (s *PostgresStore) AliasChain(ctx context.Context, id entity.NodeId) ([]entity.NodeId, error) {
	chain := []entity.NodeId{id}
	visited := map[entity.NodeId]bool{id: true}
	current := id
	for hop := 0; hop < aliasChainBound; hop++ {
		next, ok, err := s.resolveOnce(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok || visited[next] {
			break
		}
		chain = append(chain, next)
		visited[next] = true
		current = next
	}
	return chain, nil
}
