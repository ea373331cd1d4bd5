package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/types"
)

const documentColumns = `id, session_id, source, subject, sender, content,
	triage_status, triage_confidence, triage_reason,
	content_hash, duplicate_group_id, is_canonical,
	embedding, cluster_id, cluster_confidence, created_at, updated_at`

// CreateDocument inserts a new document row
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	embedding, err := encodeEmbedding(doc.Embedding)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, session_id, source, subject, sender, content,
			triage_status, triage_confidence, triage_reason,
			content_hash, duplicate_group_id, is_canonical,
			embedding, cluster_id, cluster_confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SessionID, doc.Source, doc.Subject, doc.Sender, doc.Content,
		triageStatusValue(doc.TriageStatus), doc.TriageConfidence, doc.TriageReason,
		nullIfEmpty(doc.ContentHash), doc.DuplicateGroupID, doc.IsCanonical,
		embedding, doc.ClusterID, doc.ClusterConfidence, now, now)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument returns a document by id, or (nil, nil) if it does not exist
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// FindUntriaged returns the session's documents with no triage outcome yet
func (s *SQLiteStorage) FindUntriaged(ctx context.Context, sessionID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = ? AND triage_status IS NULL ORDER BY id`, sessionID)
}

// UpdateTriage writes a terminal triage outcome for one document
func (s *SQLiteStorage) UpdateTriage(ctx context.Context, docID string, status types.TriageStatus, confidence float64, reason string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid triage status: %s", status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET triage_status = ?, triage_confidence = ?, triage_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(status), confidence, reason, time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to update triage for %s: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// FindFirmDrafted returns the session's FirmDrafted documents
func (s *SQLiteStorage) FindFirmDrafted(ctx context.Context, sessionID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = ? AND triage_status = ? ORDER BY id`,
		sessionID, string(types.TriageFirmDrafted))
}

// MarkDuplicateGroup records one duplicate group in a single transaction:
// every member gets the group id and content hash, exactly the canonical
// member gets the flag.
func (s *SQLiteStorage) MarkDuplicateGroup(ctx context.Context, groupID, canonicalID, contentHash string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return fmt.Errorf("duplicate group %s has no members", groupID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	placeholders := strings.Repeat("?,", len(memberIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(memberIDs)+4)
	args = append(args, groupID, nullIfEmpty(contentHash), now)
	for _, id := range memberIDs {
		args = append(args, id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET duplicate_group_id = ?, content_hash = ?, is_canonical = 0, updated_at = ?
		 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to mark duplicate group %s: %w", groupID, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET is_canonical = 1, updated_at = ? WHERE id = ?`, now, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to mark canonical %s: %w", canonicalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("canonical document %s not found", canonicalID)
	}

	return tx.Commit()
}

// FindCanonicalFirmDrafted returns the session's canonical FirmDrafted
// documents, the candidate set for embedding and clustering
func (s *SQLiteStorage) FindCanonicalFirmDrafted(ctx context.Context, sessionID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = ? AND triage_status = ? AND is_canonical = 1 ORDER BY id`,
		sessionID, string(types.TriageFirmDrafted))
}

// UpdateEmbedding persists a document's embedding vector
func (s *SQLiteStorage) UpdateEmbedding(ctx context.Context, docID string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}

	embedding, err := encodeEmbedding(vector)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET embedding = ?, updated_at = ? WHERE id = ?`,
		embedding, time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to update embedding for %s: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// AssignCluster records a document's cluster membership
func (s *SQLiteStorage) AssignCluster(ctx context.Context, docID, clusterID string, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET cluster_id = ?, cluster_confidence = ?, updated_at = ? WHERE id = ?`,
		clusterID, confidence, time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to assign cluster for %s: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// FindClusterMembers returns a cluster's documents ordered by descending
// assignment confidence
func (s *SQLiteStorage) FindClusterMembers(ctx context.Context, clusterID string) ([]*types.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE cluster_id = ? ORDER BY cluster_confidence DESC, id`, clusterID)
}

func (s *SQLiteStorage) queryDocuments(ctx context.Context, query string, args ...any) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	var triageStatus, contentHash, groupID, embedding, clusterID sql.NullString

	err := row.Scan(&doc.ID, &doc.SessionID, &doc.Source, &doc.Subject, &doc.Sender, &doc.Content,
		&triageStatus, &doc.TriageConfidence, &doc.TriageReason,
		&contentHash, &groupID, &doc.IsCanonical,
		&embedding, &clusterID, &doc.ClusterConfidence, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if triageStatus.Valid {
		ts := types.TriageStatus(triageStatus.String)
		doc.TriageStatus = &ts
	}
	doc.ContentHash = contentHash.String
	if groupID.Valid {
		doc.DuplicateGroupID = &groupID.String
	}
	if clusterID.Valid {
		doc.ClusterID = &clusterID.String
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &doc.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding for %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

// encodeEmbedding serializes a vector as JSON text. SQLite has no native
// vector type; the pipeline only ever reads vectors back whole.
func encodeEmbedding(vector []float32) (any, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}
	return string(raw), nil
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
