package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/homergraph/internal/entity"
	"github.com/rohankatakam/homergraph/internal/errors"
)

// SQLiteStore is the default Store backend: a single SQLite file plus a
// sibling bleve full-text index directory. Writers are serialized through
// mu, matching the contract's single-writer requirement; readers share the
// connection pool freely since SQLite itself serializes at the file level
// under WAL.
type SQLiteStore struct {
	db     *sqlx.DB
	fts    *ftsIndex
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed store at path,
// plus a bleve index at path+".fts".
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.BackendIOError(err, "create database directory")
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.BackendIOError(err, "open sqlite database")
	}
	db.SetMaxOpenConns(1) // serialize at the connection level; avoids SQLITE_BUSY under WAL with concurrent writers

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.BackendIOError(err, fmt.Sprintf("apply pragma %q", pragma))
		}
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.BackendIOError(err, "initialize schema")
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeBackendIO, errors.SeverityHigh, "migrate schema")
	}

	fts, err := openFTSIndex(path + ".fts")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, fts: fts, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ftsErr := s.fts.close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return errors.BackendIOError(dbErr, "close database")
	}
	if ftsErr != nil {
		return errors.BackendIOError(ftsErr, "close fulltext index")
	}
	return nil
}

// --- metadata (de)serialization helpers ---

func encodeMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.SerializationError(err, "encode metadata")
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.SerializationError(err, "decode metadata")
	}
	return m, nil
}

// --- nodes ---

type nodeRow struct {
	ID            int64     `db:"id"`
	Kind          string    `db:"kind"`
	Name          string    `db:"name"`
	ContentHash   string    `db:"content_hash"`
	LastExtracted time.Time `db:"last_extracted"`
	Metadata      string    `db:"metadata"`
}

func (r *nodeRow) toEntity() (*entity.Node, error) {
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	return &entity.Node{
		ID:            entity.NodeId(r.ID),
		Kind:          entity.NodeKind(r.Kind),
		Name:          r.Name,
		ContentHash:   r.ContentHash,
		LastExtracted: r.LastExtracted,
		Metadata:      meta,
	}, nil
}

func (s *SQLiteStore) UpsertNode(ctx context.Context, n *entity.Node) (entity.NodeId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertNode(ctx, s.db, n)
}

// execer is the subset of *sqlx.DB / *sqlx.Tx that upsertNode needs; it lets
// the same upsert logic run standalone or inside an explicit transaction.
type execer interface {
	sqlx.ExtContext
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func (s *SQLiteStore) upsertNode(ctx context.Context, ext execer, n *entity.Node) (entity.NodeId, error) {
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
		ON CONFLICT(kind, name) DO UPDATE SET
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

func (s *SQLiteStore) GetNode(ctx context.Context, id entity.NodeId) (*entity.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, `SELECT id, kind, name, content_hash, last_extracted, metadata FROM nodes WHERE id = ?`, int64(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIOError(err, "get node")
	}
	return row.toEntity()
}

func (s *SQLiteStore) GetNodeByName(ctx context.Context, kind entity.NodeKind, name string) (*entity.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, `SELECT id, kind, name, content_hash, last_extracted, metadata FROM nodes WHERE kind = ? AND name = ?`, string(kind), name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIOError(err, "get node by name")
	}
	return row.toEntity()
}

func (s *SQLiteStore) FindNodes(ctx context.Context, filter entity.NodeFilter) ([]*entity.Node, error) {
	q := `SELECT id, kind, name, content_hash, last_extracted, metadata FROM nodes WHERE 1=1`
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

// UpsertNodesBatch writes every node inside one transaction; any single
// row's failure rolls the whole batch back rather than leaving a partial
// write.
func (s *SQLiteStore) UpsertNodesBatch(ctx context.Context, nodes []*entity.Node) ([]entity.NodeId, error) {
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

func (s *SQLiteStore) MarkNodeStale(ctx context.Context, id entity.NodeId) error {
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
	_, err = s.db.ExecContext(ctx, `UPDATE nodes SET metadata = ? WHERE id = ?`, metaJSON, int64(id))
	if err != nil {
		return errors.BackendIOError(err, "mark node stale")
	}
	return nil
}

func (s *SQLiteStore) DeleteStaleNodes(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE last_extracted < ?
		AND json_extract(metadata, '$.stale') = 1
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

func (s *SQLiteStore) DeleteNode(ctx context.Context, id entity.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, int64(id)); err != nil {
		return errors.BackendIOError(err, "delete node")
	}
	return nil
}

// --- hyperedges ---

type hyperedgeRow struct {
	ID          int64     `db:"id"`
	Kind        string    `db:"kind"`
	Confidence  float64   `db:"confidence"`
	LastUpdated time.Time `db:"last_updated"`
	Metadata    string    `db:"metadata"`
}

type memberRow struct {
	NodeID   int64  `db:"node_id"`
	Role     string `db:"role"`
	Position int    `db:"position"`
}

func (s *SQLiteStore) loadMembers(ctx context.Context, edgeID int64) ([]entity.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, `SELECT node_id, role, position FROM hyperedge_members WHERE edge_id = ? ORDER BY position`, edgeID)
	if err != nil {
		return nil, errors.BackendIOError(err, "load hyperedge members")
	}
	out := make([]entity.Member, len(rows))
	for i, r := range rows {
		out[i] = entity.Member{NodeID: entity.NodeId(r.NodeID), Role: r.Role, Position: r.Position}
	}
	return out, nil
}

func (s *SQLiteStore) hydrateEdge(ctx context.Context, row hyperedgeRow) (*entity.Hyperedge, error) {
	members, err := s.loadMembers(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	meta, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &entity.Hyperedge{
		ID:          entity.HyperedgeId(row.ID),
		Kind:        entity.EdgeKind(row.Kind),
		Members:     members,
		Confidence:  row.Confidence,
		LastUpdated: row.LastUpdated,
		Metadata:    meta,
	}, nil
}

// UpsertHyperedge writes the edge row by its content-addressable identity,
// then rewrites the member set inside the same transaction: delete every
// existing member row for this edge, insert the new set. Position-only
// changes are not distinguishable from no-op writes by identity alone, so
// members are always rewritten rather than diffed.
func (s *SQLiteStore) UpsertHyperedge(ctx context.Context, h *entity.Hyperedge) (entity.HyperedgeId, error) {
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
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM hyperedge_members WHERE edge_id = ?`, id); err != nil {
		return 0, errors.BackendIOError(err, "clear hyperedge members")
	}
	for _, m := range h.Members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO hyperedge_members (edge_id, node_id, role, position) VALUES (?, ?, ?, ?)`,
			id, int64(m.NodeID), m.Role, m.Position); err != nil {
			return 0, errors.BackendIOError(err, "insert hyperedge member")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.BackendIOError(err, "commit hyperedge upsert")
	}
	return entity.HyperedgeId(id), nil
}

func (s *SQLiteStore) GetEdgesInvolving(ctx context.Context, id entity.NodeId) ([]*entity.Hyperedge, error) {
	var rows []hyperedgeRow
	q := `
		SELECT DISTINCT h.id, h.kind, h.confidence, h.last_updated, h.metadata
		FROM hyperedges h
		JOIN hyperedge_members m ON m.edge_id = h.id
		WHERE m.node_id = ?
		ORDER BY h.id
	`
	if err := s.db.SelectContext(ctx, &rows, q, int64(id)); err != nil {
		return nil, errors.BackendIOError(err, "get edges involving node")
	}
	return s.hydrateAll(ctx, rows)
}

func (s *SQLiteStore) GetEdgesByKind(ctx context.Context, kind entity.EdgeKind) ([]*entity.Hyperedge, error) {
	var rows []hyperedgeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, kind, confidence, last_updated, metadata FROM hyperedges WHERE kind = ? ORDER BY id`, string(kind)); err != nil {
		return nil, errors.BackendIOError(err, "get edges by kind")
	}
	return s.hydrateAll(ctx, rows)
}

func (s *SQLiteStore) hydrateAll(ctx context.Context, rows []hyperedgeRow) ([]*entity.Hyperedge, error) {
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

func (s *SQLiteStore) GetCoMembers(ctx context.Context, id entity.NodeId, kind entity.EdgeKind) ([]entity.NodeId, error) {
	const q = `
		SELECT DISTINCT m2.node_id
		FROM hyperedge_members m1
		JOIN hyperedges h ON h.id = m1.edge_id
		JOIN hyperedge_members m2 ON m2.edge_id = h.id
		WHERE m1.node_id = ? AND h.kind = ? AND m2.node_id != ?
		ORDER BY m2.node_id
	`
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, int64(id), string(kind), int64(id)); err != nil {
		return nil, errors.BackendIOError(err, "get co-members")
	}
	out := make([]entity.NodeId, len(ids))
	for i, v := range ids {
		out[i] = entity.NodeId(v)
	}
	return out, nil
}

// --- analysis results ---

func (s *SQLiteStore) StoreAnalysis(ctx context.Context, r *entity.AnalysisResult) error {
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
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id, kind) DO UPDATE SET
			payload = excluded.payload,
			input_hash = excluded.input_hash,
			computed_at = excluded.computed_at
	`
	if _, err := s.db.ExecContext(ctx, q, int64(r.NodeID), string(r.Kind), payloadJSON, r.InputHash, computedAt); err != nil {
		return errors.BackendIOError(err, "store analysis result")
	}
	return nil
}

type analysisRow struct {
	ID         int64     `db:"id"`
	NodeID     int64     `db:"node_id"`
	Kind       string    `db:"kind"`
	Payload    string    `db:"payload"`
	InputHash  string    `db:"input_hash"`
	ComputedAt time.Time `db:"computed_at"`
}

func (r *analysisRow) toEntity() (*entity.AnalysisResult, error) {
	payload, err := decodeMetadata(r.Payload)
	if err != nil {
		return nil, err
	}
	return &entity.AnalysisResult{
		ID:         entity.AnalysisResultId(r.ID),
		NodeID:     entity.NodeId(r.NodeID),
		Kind:       entity.AnalysisKind(r.Kind),
		Payload:    payload,
		InputHash:  r.InputHash,
		ComputedAt: r.ComputedAt,
	}, nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id entity.NodeId, kind entity.AnalysisKind) (*entity.AnalysisResult, error) {
	var row analysisRow
	err := s.db.GetContext(ctx, &row, `SELECT id, node_id, kind, payload, input_hash, computed_at FROM analysis_results WHERE node_id = ? AND kind = ?`, int64(id), string(kind))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIOError(err, "get analysis result")
	}
	return row.toEntity()
}

func (s *SQLiteStore) GetAnalysesByKind(ctx context.Context, kind entity.AnalysisKind) ([]*entity.AnalysisResult, error) {
	var rows []analysisRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, node_id, kind, payload, input_hash, computed_at FROM analysis_results WHERE kind = ? ORDER BY node_id`, string(kind)); err != nil {
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

func (s *SQLiteStore) InvalidateAnalyses(ctx context.Context, id entity.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE node_id = ?`, int64(id)); err != nil {
		return errors.BackendIOError(err, "invalidate analyses")
	}
	return nil
}

func (s *SQLiteStore) InvalidateAnalysesByKinds(ctx context.Context, id entity.NodeId, kinds []entity.AnalysisKind) error {
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

func (s *SQLiteStore) InvalidateAllByKinds(ctx context.Context, kinds []entity.AnalysisKind) error {
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

func (s *SQLiteStore) InvalidateAnalysesExcludingKinds(ctx context.Context, id entity.NodeId, keep []entity.AnalysisKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keep) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE node_id = ?`, int64(id)); err != nil {
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

func kindsToAnalysisStrings(kinds []entity.AnalysisKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// --- full text ---

func (s *SQLiteStore) IndexText(ctx context.Context, id entity.NodeId, contentType, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO fulltext_index (node_id, content_type, content) VALUES (?, ?, ?)
		ON CONFLICT(node_id, content_type) DO UPDATE SET content = excluded.content
	`, int64(id), contentType, content); err != nil {
		return errors.BackendIOError(err, "record fulltext content")
	}
	return s.fts.index(id, contentType, content)
}

func (s *SQLiteStore) SearchText(ctx context.Context, query string, scope SearchScope) ([]SearchHit, error) {
	hits, err := s.fts.search(query, scope)
	if err != nil {
		return nil, err
	}
	if len(scope.NodeKinds) == 0 {
		return hits, nil
	}

	allowed := make(map[entity.NodeId]bool, len(hits))
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

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, kind string) (string, bool, error) {
	var token string
	err := s.db.GetContext(ctx, &token, `SELECT token FROM checkpoints WHERE kind = ?`, kind)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.BackendIOError(err, "get checkpoint")
	}
	return token, true, nil
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, kind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (kind, token) VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET token = excluded.token
	`, kind, token)
	if err != nil {
		return errors.BackendIOError(err, "set checkpoint")
	}
	return nil
}

func (s *SQLiteStore) ClearCheckpoint(ctx context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE kind = ?`, kind); err != nil {
		return errors.BackendIOError(err, "clear checkpoint")
	}
	return nil
}

// --- snapshots ---

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, label string) (entity.SnapshotId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.BackendIOError(err, "begin snapshot")
	}
	defer tx.Rollback()

	var nodeRows []nodeRow
	if err := tx.SelectContext(ctx, &nodeRows, `SELECT id, kind, name, content_hash, last_extracted, metadata FROM nodes`); err != nil {
		return 0, errors.BackendIOError(err, "load nodes for snapshot")
	}
	var edgeIDs []int64
	if err := tx.SelectContext(ctx, &edgeIDs, `SELECT id FROM hyperedges`); err != nil {
		return 0, errors.BackendIOError(err, "load edges for snapshot")
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots (label, node_count, edge_count) VALUES (?, ?, ?)`, label, len(nodeRows), len(edgeIDs))
	if err != nil {
		return 0, errors.ConstraintError(fmt.Sprintf("create snapshot %q: %v", label, err))
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.BackendIOError(err, "read snapshot id")
	}

	for _, n := range nodeRows {
		meta, err := decodeMetadata(n.Metadata)
		if err != nil {
			return 0, err
		}
		sourceFile, _ := meta["source_file"].(string)
		row := 0
		if v, ok := meta["source_row"]; ok {
			row = toIntMeta(v)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_nodes (snapshot_id, node_id, name, source_file, source_row) VALUES (?, ?, ?, ?, ?)`,
			snapID, n.ID, n.Name, sourceFile, row); err != nil {
			return 0, errors.BackendIOError(err, "write snapshot node")
		}
	}
	for _, eid := range edgeIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_edges (snapshot_id, edge_id) VALUES (?, ?)`, snapID, eid); err != nil {
			return 0, errors.BackendIOError(err, "write snapshot edge")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.BackendIOError(err, "commit snapshot")
	}
	return entity.SnapshotId(snapID), nil
}

func toIntMeta(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

type snapshotRow struct {
	ID        int64     `db:"id"`
	Label     string    `db:"label"`
	CreatedAt time.Time `db:"created_at"`
	NodeCount int       `db:"node_count"`
	EdgeCount int       `db:"edge_count"`
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]*entity.Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, label, created_at, node_count, edge_count FROM snapshots ORDER BY created_at`); err != nil {
		return nil, errors.BackendIOError(err, "list snapshots")
	}
	out := make([]*entity.Snapshot, len(rows))
	for i, r := range rows {
		out[i] = &entity.Snapshot{
			ID:        entity.SnapshotId(r.ID),
			Label:     r.Label,
			CreatedAt: r.CreatedAt,
			NodeCount: r.NodeCount,
			EdgeCount: r.EdgeCount,
		}
	}
	return out, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE label = ?`, label); err != nil {
		return errors.BackendIOError(err, "delete snapshot")
	}
	return nil
}

func (s *SQLiteStore) snapshotByLabel(ctx context.Context, label string) (*entity.Snapshot, []entity.NodeIdentityRow, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT id, label, created_at, node_count, edge_count FROM snapshots WHERE label = ?`, label)
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
	if err := s.db.SelectContext(ctx, &nodeRows, `SELECT node_id, name, source_file, source_row FROM snapshot_nodes WHERE snapshot_id = ?`, row.ID); err != nil {
		return nil, nil, errors.BackendIOError(err, "load snapshot nodes")
	}
	var edgeIDs []int64
	if err := s.db.SelectContext(ctx, &edgeIDs, `SELECT edge_id FROM snapshot_edges WHERE snapshot_id = ?`, row.ID); err != nil {
		return nil, nil, errors.BackendIOError(err, "load snapshot edges")
	}

	nodeIDs := make([]entity.NodeId, len(nodeRows))
	identityRows := make([]entity.NodeIdentityRow, len(nodeRows))
	for i, nr := range nodeRows {
		nodeIDs[i] = entity.NodeId(nr.NodeID)
		identityRows[i] = entity.NodeIdentityRow{
			NodeID:     entity.NodeId(nr.NodeID),
			Name:       nr.Name,
			SourceFile: nr.SourceFile,
			SourceRow:  nr.SourceRow,
		}
	}
	edges := make([]entity.HyperedgeId, len(edgeIDs))
	for i, e := range edgeIDs {
		edges[i] = entity.HyperedgeId(e)
	}

	snap := &entity.Snapshot{
		ID:        entity.SnapshotId(row.ID),
		Label:     row.Label,
		CreatedAt: row.CreatedAt,
		NodeIDs:   nodeIDs,
		EdgeIDs:   edges,
		NodeCount: row.NodeCount,
		EdgeCount: row.EdgeCount,
	}
	return snap, identityRows, nil
}

func (s *SQLiteStore) GetSnapshotDiff(ctx context.Context, from, to string) (*entity.GraphDiff, error) {
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

func (s *SQLiteStore) LoadCallGraph(ctx context.Context, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error) {
	return s.loadProjection(ctx, entity.EdgeCalls, filter)
}

func (s *SQLiteStore) LoadImportGraph(ctx context.Context, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error) {
	return s.loadProjection(ctx, entity.EdgeImports, filter)
}

func (s *SQLiteStore) loadProjection(ctx context.Context, kind entity.EdgeKind, filter entity.SubgraphFilter) (*entity.InMemoryGraph, error) {
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

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.BackendIOError(err, "begin transaction")
	}
	return &unlockingTx{sqlTx: &sqlTx{tx: tx}, unlock: s.mu.Unlock}, nil
}

// unlockingTx releases the store's writer lock on commit or rollback,
// since Begin acquires it for the lifetime of the explicit transaction.
type unlockingTx struct {
	*sqlTx
	unlock func()
	once   sync.Once
}

func (t *unlockingTx) Commit() error {
	err := t.sqlTx.Commit()
	t.once.Do(t.unlock)
	return err
}

func (t *unlockingTx) Rollback() error {
	err := t.sqlTx.Rollback()
	t.once.Do(t.unlock)
	return err
}

// --- alias resolution ---

func (s *SQLiteStore) resolveOnce(ctx context.Context, id entity.NodeId) (entity.NodeId, bool, error) {
	const q = `
		SELECT m2.node_id
		FROM hyperedge_members m1
		JOIN hyperedges h ON h.id = m1.edge_id
		JOIN hyperedge_members m2 ON m2.edge_id = h.id AND m2.role = 'new'
		WHERE h.kind = ? AND m1.role = 'old' AND m1.node_id = ?
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

func (s *SQLiteStore) ResolveCanonical(ctx context.Context, id entity.NodeId) (entity.NodeId, error) {
	chain, err := s.AliasChain(ctx, id)
	if err != nil {
		return id, err
	}
	if len(chain) == 0 {
		return id, nil
	}
	return chain[len(chain)-1], nil
}

func (s *SQLiteStore) ResolveCanonicalBatch(ctx context.Context, ids []entity.NodeId) (map[entity.NodeId]entity.NodeId, error) {
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

// AliasChain walks forward from id through Aliases edges until no further
// alias exists, a cycle is detected, or aliasChainBound hops are exhausted.
// The returned slice always starts with id.
func (s *SQLiteStore) AliasChain(ctx context.Context, id entity.NodeId) ([]entity.NodeId, error) {
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
