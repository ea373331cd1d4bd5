package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/internal/types"
)

// CreateCluster inserts a new cluster row
func (s *SQLiteStorage) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	if cluster.ID == "" || cluster.SessionID == "" {
		return fmt.Errorf("cluster id and session_id are required")
	}

	status := cluster.Status
	if status == "" {
		status = "active"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clusters (id, session_id, member_count, is_noise, name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cluster.ID, cluster.SessionID, cluster.MemberCount, cluster.IsNoise,
		cluster.Name, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	return nil
}

// ListClusters returns all of a session's clusters, largest first
func (s *SQLiteStorage) ListClusters(ctx context.Context, sessionID string) ([]*types.Cluster, error) {
	return s.queryClusters(ctx, `
		SELECT id, session_id, member_count, is_noise, name, status, created_at
		FROM clusters WHERE session_id = ? ORDER BY is_noise, member_count DESC`, sessionID)
}

// FindUnnamedClusters returns the session's non-noise clusters that have no
// generated name yet. The noise pseudo-cluster is never named.
func (s *SQLiteStorage) FindUnnamedClusters(ctx context.Context, sessionID string) ([]*types.Cluster, error) {
	return s.queryClusters(ctx, `
		SELECT id, session_id, member_count, is_noise, name, status, created_at
		FROM clusters WHERE session_id = ? AND is_noise = 0 AND name = '' ORDER BY member_count DESC`,
		sessionID)
}

// UpdateClusterName records the generated name for one cluster
func (s *SQLiteStorage) UpdateClusterName(ctx context.Context, clusterID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET name = ? WHERE id = ?`, name, clusterID)
	if err != nil {
		return fmt.Errorf("failed to update cluster name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cluster %s not found", clusterID)
	}
	return nil
}

// ClearClusters removes the session's clusters and nulls member assignments
// in one transaction, so a re-clustering pass starts from a clean slate.
func (s *SQLiteStorage) ClearClusters(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET cluster_id = NULL, cluster_confidence = 0, updated_at = ?
		WHERE session_id = ? AND cluster_id IS NOT NULL`,
		time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("failed to clear cluster assignments: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM clusters WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete clusters: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStorage) queryClusters(ctx context.Context, query string, args ...any) ([]*types.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*types.Cluster
	for rows.Next() {
		var c types.Cluster
		if err := rows.Scan(&c.ID, &c.SessionID, &c.MemberCount, &c.IsNoise,
			&c.Name, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}
