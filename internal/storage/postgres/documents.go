package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/quarrylabs/quarry/internal/types"
)

const documentColumns = `id, session_id, source, subject, sender, content,
	triage_status, triage_confidence, triage_reason,
	content_hash, duplicate_group_id, is_canonical,
	embedding, cluster_id, cluster_confidence, created_at, updated_at`

// CreateDocument inserts a new document row
func (s *PostgresStorage) CreateDocument(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, session_id, source, subject, sender, content,
			triage_status, triage_confidence, triage_reason,
			content_hash, duplicate_group_id, is_canonical,
			embedding, cluster_id, cluster_confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
		doc.ID, doc.SessionID, doc.Source, doc.Subject, doc.Sender, doc.Content,
		triageStatusValue(doc.TriageStatus), doc.TriageConfidence, doc.TriageReason,
		nullIfEmpty(doc.ContentHash), doc.DuplicateGroupID, doc.IsCanonical,
		vectorValue(doc.Embedding), doc.ClusterID, doc.ClusterConfidence, now)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument returns a document by id, or (nil, nil) if it does not exist
func (s *PostgresStorage) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// FindUntriaged returns the session's documents with no triage outcome yet
func (s *PostgresStorage) FindUntriaged(ctx context.Context, sessionID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = $1 AND triage_status IS NULL ORDER BY id`, sessionID)
}

// UpdateTriage writes a terminal triage outcome for one document
func (s *PostgresStorage) UpdateTriage(ctx context.Context, docID string, status types.TriageStatus, confidence float64, reason string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid triage status: %s", status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET triage_status = $1, triage_confidence = $2, triage_reason = $3, updated_at = $4
		WHERE id = $5`,
		string(status), confidence, reason, time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to update triage for %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// FindFirmDrafted returns the session's FirmDrafted documents
func (s *PostgresStorage) FindFirmDrafted(ctx context.Context, sessionID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = $1 AND triage_status = $2 ORDER BY id`,
		sessionID, string(types.TriageFirmDrafted))
}

// MarkDuplicateGroup records one duplicate group transactionally
func (s *PostgresStorage) MarkDuplicateGroup(ctx context.Context, groupID, canonicalID, contentHash string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return fmt.Errorf("duplicate group %s has no members", groupID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE documents SET duplicate_group_id = $1, content_hash = $2, is_canonical = FALSE, updated_at = $3
		WHERE id = ANY($4)`, groupID, nullIfEmpty(contentHash), now, memberIDs); err != nil {
		return fmt.Errorf("failed to mark duplicate group %s: %w", groupID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET is_canonical = TRUE, updated_at = $1 WHERE id = $2`, now, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to mark canonical %s: %w", canonicalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("canonical document %s not found", canonicalID)
	}

	return tx.Commit(ctx)
}

// FindCanonicalFirmDrafted returns the candidate set for embedding/clustering
func (s *PostgresStorage) FindCanonicalFirmDrafted(ctx context.Context, sessionID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = $1 AND triage_status = $2 AND is_canonical ORDER BY id`,
		sessionID, string(types.TriageFirmDrafted))
}

// UpdateEmbedding persists a document's embedding vector
func (s *PostgresStorage) UpdateEmbedding(ctx context.Context, docID string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(vector), time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to update embedding for %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// AssignCluster records a document's cluster membership
func (s *PostgresStorage) AssignCluster(ctx context.Context, docID, clusterID string, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET cluster_id = $1, cluster_confidence = $2, updated_at = $3 WHERE id = $4`,
		clusterID, confidence, time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to assign cluster for %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// FindClusterMembers returns a cluster's documents ordered by descending
// assignment confidence
func (s *PostgresStorage) FindClusterMembers(ctx context.Context, clusterID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE cluster_id = $1 ORDER BY cluster_confidence DESC, id`, clusterID)
}

func (s *PostgresStorage) queryDocuments(ctx context.Context, query string, args ...any) ([]*types.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row scanner) (*types.Document, error) {
	var doc types.Document
	var triageStatus, contentHash, groupID, clusterID *string
	var embedding *pgvector.Vector

	err := row.Scan(&doc.ID, &doc.SessionID, &doc.Source, &doc.Subject, &doc.Sender, &doc.Content,
		&triageStatus, &doc.TriageConfidence, &doc.TriageReason,
		&contentHash, &groupID, &doc.IsCanonical,
		&embedding, &clusterID, &doc.ClusterConfidence, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if triageStatus != nil {
		ts := types.TriageStatus(*triageStatus)
		doc.TriageStatus = &ts
	}
	if contentHash != nil {
		doc.ContentHash = *contentHash
	}
	doc.DuplicateGroupID = groupID
	doc.ClusterID = clusterID
	if embedding != nil {
		doc.Embedding = embedding.Slice()
	}
	return &doc, nil
}

func vectorValue(vector []float32) any {
	if len(vector) == 0 {
		return nil
	}
	return pgvector.NewVector(vector)
}

func triageStatusValue(status *types.TriageStatus) any {
	if status == nil {
		return nil
	}
	return string(*status)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
