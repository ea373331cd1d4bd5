// Package types defines the shared domain model for the categorization
// pipeline: sessions, documents, clusters, and the pipeline state machine.
package types

import (
	"fmt"
	"time"
)

// Session represents one corpus-processing run. A session owns its documents
// and clusters; its status advances monotonically through the pipeline state
// machine and is only mutated by stage transitions (or an explicit reset).
type Session struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	TotalDocuments int             `json:"total_documents"`
	Status         PipelineStatus  `json:"status"`
	StageStartedAt *time.Time      `json:"stage_started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks if the session has valid field values
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid pipeline status: %s", s.Status)
	}
	if s.TotalDocuments < 0 {
		return fmt.Errorf("total_documents cannot be negative (got %d)", s.TotalDocuments)
	}
	return nil
}

// Document represents one extracted file or message body from the archive.
// Documents are created during extraction and mutated in place by each
// pipeline stage; they are never deleted by the pipeline.
type Document struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Source    string `json:"source,omitempty"` // originating archive path
	Subject   string `json:"subject,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`

	// Triage fields. A nil TriageStatus means the document has not been
	// classified yet; the triage stage only writes documents in that state.
	TriageStatus     *TriageStatus `json:"triage_status,omitempty"`
	TriageConfidence float64       `json:"triage_confidence"`
	TriageReason     string        `json:"triage_reason,omitempty"`

	// Dedup fields. Within a duplicate group exactly one document carries
	// IsCanonical=true.
	ContentHash      string  `json:"content_hash,omitempty"`
	DuplicateGroupID *string `json:"duplicate_group_id,omitempty"`
	IsCanonical      bool    `json:"is_canonical"`

	// Embedding is nil until the embedding stage succeeds for this document.
	Embedding []float32 `json:"embedding,omitempty"`

	// Cluster assignment. Non-nil only for canonical, FirmDrafted,
	// successfully embedded documents.
	ClusterID         *string `json:"cluster_id,omitempty"`
	ClusterConfidence float64 `json:"cluster_confidence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Triaged reports whether the document already has a terminal triage outcome.
func (d *Document) Triaged() bool {
	return d.TriageStatus != nil
}

// Embedded reports whether the document carries an embedding vector.
func (d *Document) Embedded() bool {
	return len(d.Embedding) > 0
}

// MetadataCompleteness scores how much originating-message metadata survived
// extraction. Used as the first canonical-selection tie-break during dedup.
func (d *Document) MetadataCompleteness() int {
	score := 0
	if d.Subject != "" {
		score++
	}
	if d.Sender != "" {
		score++
	}
	if d.Source != "" {
		score++
	}
	return score
}

// Validate checks if the document has valid field values
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if d.TriageStatus != nil && !d.TriageStatus.IsValid() {
		return fmt.Errorf("invalid triage status: %s", *d.TriageStatus)
	}
	if d.TriageConfidence < 0 || d.TriageConfidence > 1 {
		return fmt.Errorf("triage_confidence must be between 0.0 and 1.0 (got %.2f)", d.TriageConfidence)
	}
	return nil
}

// Cluster represents one group of canonical, embedded, FirmDrafted documents
// produced by the clustering stage. The reserved noise pseudo-cluster has
// IsNoise=true and is never named.
type Cluster struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	MemberCount int       `json:"member_count"`
	IsNoise     bool      `json:"is_noise"`
	Name        string    `json:"name,omitempty"` // empty until the naming stage
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TriageStatus is the coarse classification assigned to a document before
// heavier processing. Only FirmDrafted documents continue past triage.
type TriageStatus string

const (
	TriageFirmDrafted TriageStatus = "firm_drafted"
	TriageThirdParty  TriageStatus = "third_party"
	TriageIrrelevant  TriageStatus = "irrelevant"
	TriageCourtDoc    TriageStatus = "court_doc"
	TriageUncertain   TriageStatus = "uncertain"
)

// IsValid checks if the triage status value is valid
func (t TriageStatus) IsValid() bool {
	switch t {
	case TriageFirmDrafted, TriageThirdParty, TriageIrrelevant, TriageCourtDoc, TriageUncertain:
		return true
	}
	return false
}

// PipelineStatus is the persisted, wire-visible state of a session's run.
type PipelineStatus string

const (
	StatusNotStarted         PipelineStatus = "not_started"
	StatusExtracting         PipelineStatus = "extracting" // owned by the extraction surface
	StatusTriaging           PipelineStatus = "triaging"
	StatusDeduplicating      PipelineStatus = "deduplicating"
	StatusEmbedding          PipelineStatus = "embedding"
	StatusClustering         PipelineStatus = "clustering"
	StatusReClustering       PipelineStatus = "re_clustering"
	StatusNaming             PipelineStatus = "naming"
	StatusReadyForValidation PipelineStatus = "ready_for_validation"
	StatusCompleted          PipelineStatus = "completed" // owned by the validation surface
	StatusFailed             PipelineStatus = "failed"
)

// IsValid checks if the pipeline status value is valid
func (s PipelineStatus) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusExtracting, StatusTriaging, StatusDeduplicating,
		StatusEmbedding, StatusClustering, StatusReClustering, StatusNaming,
		StatusReadyForValidation, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends a run.
func (s PipelineStatus) IsTerminal() bool {
	return s == StatusReadyForValidation || s == StatusCompleted || s == StatusFailed
}

// InProgress reports whether a run is currently active in this status.
// Used by the orchestrator to reject concurrent runs for the same session.
func (s PipelineStatus) InProgress() bool {
	switch s {
	case StatusTriaging, StatusDeduplicating, StatusEmbedding,
		StatusClustering, StatusReClustering, StatusNaming:
		return true
	}
	return false
}

// Rank orders pipeline statuses along the state machine. Higher ranks are
// later stages; Failed ranks above everything so status never regresses when
// a run aborts. Used to enforce monotonic status transitions.
func (s PipelineStatus) Rank() int {
	switch s {
	case StatusNotStarted:
		return 0
	case StatusExtracting:
		return 1
	case StatusTriaging:
		return 2
	case StatusDeduplicating:
		return 3
	case StatusEmbedding:
		return 4
	case StatusClustering:
		return 5
	case StatusReClustering:
		return 6
	case StatusNaming:
		return 7
	case StatusReadyForValidation:
		return 8
	case StatusCompleted:
		return 9
	case StatusFailed:
		return 10
	default:
		return -1
	}
}

// Stage identifies one resumable pipeline stage. Stages are the units of
// resume-from and the keys under which per-stage statistics are persisted.
type Stage string

const (
	StageTriage  Stage = "triage"
	StageDedup   Stage = "dedup"
	StageEmbed   Stage = "embed"
	StageCluster Stage = "cluster"
	StageName    Stage = "name"
)

// IsValid checks if the stage value is valid
func (s Stage) IsValid() bool {
	switch s {
	case StageTriage, StageDedup, StageEmbed, StageCluster, StageName:
		return true
	}
	return false
}

// Order returns the stage's position in the pipeline sequence.
func (s Stage) Order() int {
	switch s {
	case StageTriage:
		return 0
	case StageDedup:
		return 1
	case StageEmbed:
		return 2
	case StageCluster:
		return 3
	case StageName:
		return 4
	default:
		return -1
	}
}

// ParseStage converts an operator-supplied stage name into a Stage.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown stage %q (valid: triage, dedup, embed, cluster, name)", name)
	}
	return s, nil
}
