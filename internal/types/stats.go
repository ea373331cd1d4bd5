package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageStats is the envelope persisted to the session record when a stage
// completes. Exactly one of the typed stats structs is serialized into Data,
// discriminated by Stage, so downstream reporting stays type-safe instead of
// poking at an untyped blob.
type StageStats struct {
	Stage       Stage           `json:"stage"`
	Data        json.RawMessage `json:"data"`
	CompletedAt time.Time       `json:"completed_at"`
}

// TriageStats counts triage outcomes for one session.
type TriageStats struct {
	Total         int `json:"total"`
	FirmDrafted   int `json:"firm_drafted"`
	ThirdParty    int `json:"third_party"`
	Irrelevant    int `json:"irrelevant"`
	CourtDoc      int `json:"court_doc"`
	Uncertain     int `json:"uncertain"`
	ParseFailures int `json:"parse_failures"` // downgraded to Uncertain, counted separately
	FailedBatches int `json:"failed_batches"` // batches that never reached a terminal state
	Skipped       int `json:"skipped"`        // already triaged on a prior run
}

// Count records one triage outcome.
func (t *TriageStats) Count(status TriageStatus) {
	t.Total++
	switch status {
	case TriageFirmDrafted:
		t.FirmDrafted++
	case TriageThirdParty:
		t.ThirdParty++
	case TriageIrrelevant:
		t.Irrelevant++
	case TriageCourtDoc:
		t.CourtDoc++
	case TriageUncertain:
		t.Uncertain++
	}
}

// DedupStats summarizes the deduplication stage.
type DedupStats struct {
	Groups     int `json:"groups"`     // unique normalized-content hashes
	Duplicates int `json:"duplicates"` // non-canonical members
	Canonical  int `json:"canonical"`  // unique documents kept for embedding
}

// EmbeddingStats summarizes the embedding stage.
type EmbeddingStats struct {
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"` // already embedded on a prior run
	Failed   int `json:"failed"`  // errored items, excluded from later stages
}

// ClusterStats summarizes the clustering stage.
type ClusterStats struct {
	Clusters       int     `json:"clusters"` // non-noise clusters
	NoiseCount     int     `json:"noise_count"`
	AvgClusterSize float64 `json:"avg_cluster_size"`
	MaxClusterSize int     `json:"max_cluster_size"`
}

// NamingStats summarizes the cluster-naming stage.
type NamingStats struct {
	Named   int `json:"named"`
	Failed  int `json:"failed"`  // left unnamed for manual naming
	Skipped int `json:"skipped"` // already named on a prior run
}

// NewStageStats wraps a typed stats value into the persisted envelope.
func NewStageStats(stage Stage, data any) (StageStats, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return StageStats{}, fmt.Errorf("failed to marshal %s stats: %w", stage, err)
	}
	return StageStats{Stage: stage, Data: raw, CompletedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the envelope's payload into the typed stats struct for
// its stage. Returns an error for an unknown stage tag.
func (s StageStats) Decode() (any, error) {
	var target any
	switch s.Stage {
	case StageTriage:
		target = &TriageStats{}
	case StageDedup:
		target = &DedupStats{}
	case StageEmbed:
		target = &EmbeddingStats{}
	case StageCluster:
		target = &ClusterStats{}
	case StageName:
		target = &NamingStats{}
	default:
		return nil, fmt.Errorf("unknown stats stage: %s", s.Stage)
	}
	if err := json.Unmarshal(s.Data, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s stats: %w", s.Stage, err)
	}
	return target, nil
}
