package sqlite

const schema = `
-- Sessions table: one row per corpus-processing run
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    total_documents INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'not_started',
    stage_started_at DATETIME,
    completed_at DATETIME,
    last_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

-- Per-stage statistics, one row per stage completion (atomic upsert)
CREATE TABLE IF NOT EXISTS session_stats (
    session_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    data TEXT NOT NULL,
    completed_at DATETIME NOT NULL,
    PRIMARY KEY (session_id, stage),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

-- Documents table: one row per extracted file/record
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    sender TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    triage_status TEXT,
    triage_confidence REAL NOT NULL DEFAULT 0,
    triage_reason TEXT NOT NULL DEFAULT '',
    content_hash TEXT,
    duplicate_group_id TEXT,
    is_canonical INTEGER NOT NULL DEFAULT 0,
    embedding TEXT,
    cluster_id TEXT,
    cluster_confidence REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);
CREATE INDEX IF NOT EXISTS idx_documents_triage ON documents(session_id, triage_status);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(session_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_cluster ON documents(cluster_id);

-- Clusters table: created by the clustering stage, named by the naming stage
CREATE TABLE IF NOT EXISTS clusters (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    member_count INTEGER NOT NULL DEFAULT 0,
    is_noise INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_clusters_session ON clusters(session_id);
`
