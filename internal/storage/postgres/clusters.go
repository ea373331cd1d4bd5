package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/internal/types"
)

// CreateCluster inserts a new cluster row
func (s *PostgresStorage) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	if cluster.ID == "" || cluster.SessionID == "" {
		return fmt.Errorf("cluster id and session_id are required")
	}

	status := cluster.Status
	if status == "" {
		status = "active"
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO clusters (id, session_id, member_count, is_noise, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cluster.ID, cluster.SessionID, cluster.MemberCount, cluster.IsNoise,
		cluster.Name, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	return nil
}

// ListClusters returns all of a session's clusters, largest first
func (s *PostgresStorage) ListClusters(ctx context.Context, sessionID string) ([]*types.Cluster, error) {
	return s.queryClusters(ctx, `
		SELECT id, session_id, member_count, is_noise, name, status, created_at
		FROM clusters WHERE session_id = $1 ORDER BY is_noise, member_count DESC`, sessionID)
}

// FindUnnamedClusters returns non-noise clusters with no generated name yet
func (s *PostgresStorage) FindUnnamedClusters(ctx context.Context, sessionID string) ([]*types.Cluster, error) {
	return s.queryClusters(ctx, `
		SELECT id, session_id, member_count, is_noise, name, status, created_at
		FROM clusters WHERE session_id = $1 AND NOT is_noise AND name = '' ORDER BY member_count DESC`,
		sessionID)
}

// UpdateClusterName records the generated name for one cluster
func (s *PostgresStorage) UpdateClusterName(ctx context.Context, clusterID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE clusters SET name = $1 WHERE id = $2`, name, clusterID)
	if err != nil {
		return fmt.Errorf("failed to update cluster name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cluster %s not found", clusterID)
	}
	return nil
}

// ClearClusters removes the session's clusters and nulls member assignments
func (s *PostgresStorage) ClearClusters(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE documents SET cluster_id = NULL, cluster_confidence = 0, updated_at = $1
		WHERE session_id = $2 AND cluster_id IS NOT NULL`,
		time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("failed to clear cluster assignments: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM clusters WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete clusters: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStorage) queryClusters(ctx context.Context, query string, args ...any) ([]*types.Cluster, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
