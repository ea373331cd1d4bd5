// Package storage defines the document repository interface that every
// pipeline stage reads and writes through. The repository is the single
// source of truth: stages never hand state to each other in memory, which is
// what makes a killed run resumable from persisted per-document state.
package storage

import (
	"context"
	"fmt"

	"github.com/quarrylabs/quarry/internal/storage/postgres"
	"github.com/quarrylabs/quarry/internal/storage/sqlite"
	"github.com/quarrylabs/quarry/internal/types"
)

// Storage is the document repository consumed by the pipeline.
//
// Mutations are self-contained per document/cluster row; within a stage all
// document-level updates are commutative. Statistics are written as a single
// atomic row per stage completion, never as incremental counters.
type Storage interface {
	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	// UpdateSessionStatus persists a stage transition. A terminal status
	// additionally stamps the completion timestamp; errMsg is recorded for
	// Failed and cleared otherwise.
	UpdateSessionStatus(ctx context.Context, id string, status types.PipelineStatus, errMsg string) error
	UpdateSessionStats(ctx context.Context, id string, stats types.StageStats) error
	GetSessionStats(ctx context.Context, id string) ([]types.StageStats, error)
	// ResetSession clears status, timestamps and error back to NotStarted.
	// Per-document progress is deliberately left intact.
	ResetSession(ctx context.Context, id string) error

	// Documents
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	FindUntriaged(ctx context.Context, sessionID string) ([]*types.Document, error)
	UpdateTriage(ctx context.Context, docID string, status types.TriageStatus, confidence float64, reason string) error
	FindFirmDrafted(ctx context.Context, sessionID string) ([]*types.Document, error)
	// MarkDuplicateGroup records one duplicate group: every member gets the
	// group id and shared content hash, exactly the canonical member gets
	// the canonical flag.
	MarkDuplicateGroup(ctx context.Context, groupID, canonicalID, contentHash string, memberIDs []string) error
	FindCanonicalFirmDrafted(ctx context.Context, sessionID string) ([]*types.Document, error)
	UpdateEmbedding(ctx context.Context, docID string, vector []float32) error
	AssignCluster(ctx context.Context, docID, clusterID string, confidence float64) error
	// FindClusterMembers returns a cluster's documents ordered by
	// descending assignment confidence.
	FindClusterMembers(ctx context.Context, clusterID string) ([]*types.Document, error)

	// Clusters
	CreateCluster(ctx context.Context, cluster *types.Cluster) error
	ListClusters(ctx context.Context, sessionID string) ([]*types.Cluster, error)
	FindUnnamedClusters(ctx context.Context, sessionID string) ([]*types.Cluster, error)
	UpdateClusterName(ctx context.Context, clusterID, name string) error
	// ClearClusters deletes a session's clusters and nulls every member
	// assignment, in one transaction. Used before re-clustering.
	ClearClusters(ctx context.Context, sessionID string) error

	// Lifecycle
	Close() error
}

// Backend selects the storage implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config holds repository configuration
type Config struct {
	Backend Backend
	// Path is the SQLite database file path (sqlite backend).
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
	// DSN is the PostgreSQL connection string (postgres backend).
	DSN string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendSQLite,
		Path:    ".quarry/quarry.db",
	}
}

// New creates a storage backend from config.
func New(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case BackendPostgres:
		return postgres.New(ctx, cfg.DSN)
	case BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = ".quarry/quarry.db"
		}
		return sqlite.New(path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
