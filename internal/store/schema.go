package store

// schema is the SQLite DDL. CREATE TABLE IF NOT EXISTS keeps opening an
// existing database idempotent; migrate() handles the legacy upgrade path
// for hyperedges created before the identity column existed.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    last_extracted DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    metadata TEXT NOT NULL DEFAULT '{}',
    UNIQUE (kind, name)
);

CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE INDEX IF NOT EXISTS idx_nodes_last_extracted ON nodes(last_extracted);

CREATE TABLE IF NOT EXISTS hyperedges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    identity_key TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0 CHECK(confidence >= 0 AND confidence <= 1),
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    metadata TEXT NOT NULL DEFAULT '{}',
    UNIQUE (identity_key)
);

CREATE INDEX IF NOT EXISTS idx_hyperedges_kind ON hyperedges(kind);

CREATE TABLE IF NOT EXISTS hyperedge_members (
    edge_id INTEGER NOT NULL,
    node_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    position INTEGER NOT NULL,
    FOREIGN KEY (edge_id) REFERENCES hyperedges(id) ON DELETE CASCADE,
    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_members_edge ON hyperedge_members(edge_id);
CREATE INDEX IF NOT EXISTS idx_members_node ON hyperedge_members(node_id);

CREATE TABLE IF NOT EXISTS analysis_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    input_hash TEXT NOT NULL DEFAULT '',
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE,
    UNIQUE (node_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_analysis_kind ON analysis_results(kind);

CREATE TABLE IF NOT EXISTS checkpoints (
    kind TEXT PRIMARY KEY,
    token TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    label TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    node_count INTEGER NOT NULL DEFAULT 0,
    edge_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snapshot_nodes (
    snapshot_id INTEGER NOT NULL,
    node_id INTEGER NOT NULL,
    -- name/source row captured at snapshot time, used by rename detection
    -- in diffing: a node's definition site outlives the node being deleted.
    name TEXT NOT NULL DEFAULT '',
    source_file TEXT NOT NULL DEFAULT '',
    source_row INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (snapshot_id, node_id),
    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_edges (
    snapshot_id INTEGER NOT NULL,
    edge_id INTEGER NOT NULL,
    PRIMARY KEY (snapshot_id, edge_id),
    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS fulltext_index (
    node_id INTEGER NOT NULL,
    content_type TEXT NOT NULL,
    content TEXT NOT NULL,
    PRIMARY KEY (node_id, content_type),
    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);
`

const currentSchemaVersion = 1
