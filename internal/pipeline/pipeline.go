// Package pipeline orchestrates the categorization stages for a session:
// triage, dedup, embedding, clustering, naming. The orchestrator owns the
// session state machine; stages own per-document progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrylabs/quarry/internal/cluster"
	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/types"
)

var (
	// ErrRunInProgress is returned when a session already has an active run.
	ErrRunInProgress = errors.New("session run already in progress")
	// ErrSessionComplete is returned when the session has already finished
	// and must be reset before running again.
	ErrSessionComplete = errors.New("session already complete, reset it first")
	// ErrSessionNotFound is returned when the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotResettable is returned when Reset is called on a session that is
	// neither finished nor failed.
	ErrNotResettable = errors.New("session can only be reset when failed or complete")
)

// TriageRunner is the triage stage as the orchestrator sees it.
type TriageRunner interface {
	Run(ctx context.Context, sessionID string) (*types.TriageStats, error)
	Recover(ctx context.Context, sessionID string, handles []string) (*types.TriageStats, error)
}

// DedupRunner is the dedup stage as the orchestrator sees it.
type DedupRunner interface {
	Run(ctx context.Context, sessionID string) (*types.DedupStats, error)
}

// EmbedRunner is the embedding stage as the orchestrator sees it.
type EmbedRunner interface {
	Run(ctx context.Context, sessionID string) (*types.EmbeddingStats, error)
}

// ClusterRunner is the two-phase clustering stage as the orchestrator
// sees it. Reduce and Assign are split so each phase reports its own
// wire status.
type ClusterRunner interface {
	Reduce(ctx context.Context, sessionID string) (*cluster.Prepared, error)
	Assign(ctx context.Context, p *cluster.Prepared) (*types.ClusterStats, error)
}

// NameRunner is the naming stage as the orchestrator sees it.
type NameRunner interface {
	Run(ctx context.Context, sessionID string) (*types.NamingStats, error)
}

// Stages bundles the five stage runners.
type Stages struct {
	Triage  TriageRunner
	Dedup   DedupRunner
	Embed   EmbedRunner
	Cluster ClusterRunner
	Name    NameRunner
}

// Orchestrator drives a session through the pipeline, persisting the
// session status before each stage and the stage statistics after it.
// A killed run leaves the session in its in-progress status; rerunning
// resumes from persisted per-document state because every stage skips
// documents already in a terminal state for that stage.
type Orchestrator struct {
	store  storage.Storage
	stages Stages
}

// New creates an orchestrator.
func New(store storage.Storage, stages Stages) *Orchestrator {
	return &Orchestrator{store: store, stages: stages}
}

// Run executes the full pipeline for a session. Allowed from NotStarted,
// from Failed (resume), or from a stale in-progress status left by a
// killed process when force is set.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, force bool) error {
	if _, err := o.guard(ctx, sessionID, force); err != nil {
		return err
	}
	return o.runFrom(ctx, sessionID, types.StageTriage)
}

// RunFromStage executes the pipeline starting at the given stage. Earlier
// stages are assumed complete; their persisted outputs are read as-is.
func (o *Orchestrator) RunFromStage(ctx context.Context, sessionID string, stage types.Stage, force bool) error {
	if !stage.IsValid() {
		return fmt.Errorf("invalid stage: %s", stage)
	}
	if _, err := o.guard(ctx, sessionID, force); err != nil {
		return err
	}
	return o.runFrom(ctx, sessionID, stage)
}

// Recover drains completed external triage batches whose handles survived a
// crash, merging their results into the session. It changes no session
// status: only null-triage documents are written, so a later Run picks up
// exactly where recovery left off.
func (o *Orchestrator) Recover(ctx context.Context, sessionID string, handles []string) (*types.TriageStats, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return o.stages.Triage.Recover(ctx, sessionID, handles)
}

// Reset returns a failed or finished session to NotStarted so it can be
// rerun. Per-document progress is kept; stages redo only what is missing.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if !session.Status.IsTerminal() {
		return fmt.Errorf("%w (status: %s)", ErrNotResettable, session.Status)
	}
	return o.store.ResetSession(ctx, sessionID)
}

func (o *Orchestrator) guard(ctx context.Context, sessionID string, force bool) (*types.Session, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	switch {
	case session.Status == types.StatusReadyForValidation || session.Status == types.StatusCompleted:
		return nil, fmt.Errorf("%w (status: %s)", ErrSessionComplete, session.Status)
	case session.Status == types.StatusExtracting:
		return nil, fmt.Errorf("%w (status: %s)", ErrRunInProgress, session.Status)
	case session.Status.InProgress() && !force:
		return nil, fmt.Errorf("%w (status: %s)", ErrRunInProgress, session.Status)
	}
	return session, nil
}

func (o *Orchestrator) runFrom(ctx context.Context, sessionID string, start types.Stage) error {
	order := []types.Stage{types.StageTriage, types.StageDedup, types.StageEmbed, types.StageCluster, types.StageName}

	for _, stage := range order {
		if stage.Order() < start.Order() {
			continue
		}
		if err := o.runStage(ctx, sessionID, stage); err != nil {
			if statusErr := o.store.UpdateSessionStatus(ctx, sessionID, types.StatusFailed, err.Error()); statusErr != nil {
				slog.Error("pipeline: failed to record failure", "session", sessionID, "error", statusErr)
			}
			return fmt.Errorf("stage %s failed: %w", stage, err)
		}
	}

	if err := o.store.UpdateSessionStatus(ctx, sessionID, types.StatusReadyForValidation, ""); err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	slog.Info("pipeline: session ready for validation", "session", sessionID)
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, sessionID string, stage types.Stage) error {
	started := time.Now()
	slog.Info("pipeline: stage starting", "session", sessionID, "stage", stage)

	var stats any
	var err error
	switch stage {
	case types.StageTriage:
		err = o.transition(ctx, sessionID, types.StatusTriaging)
		if err == nil {
			stats, err = o.stages.Triage.Run(ctx, sessionID)
		}
	case types.StageDedup:
		err = o.transition(ctx, sessionID, types.StatusDeduplicating)
		if err == nil {
			stats, err = o.stages.Dedup.Run(ctx, sessionID)
		}
	case types.StageEmbed:
		err = o.transition(ctx, sessionID, types.StatusEmbedding)
		if err == nil {
			stats, err = o.stages.Embed.Run(ctx, sessionID)
		}
	case types.StageCluster:
		var prepared *cluster.Prepared
		err = o.transition(ctx, sessionID, types.StatusClustering)
		if err == nil {
			prepared, err = o.stages.Cluster.Reduce(ctx, sessionID)
		}
		if err == nil {
			err = o.transition(ctx, sessionID, types.StatusReClustering)
		}
		if err == nil {
			stats, err = o.stages.Cluster.Assign(ctx, prepared)
		}
	case types.StageName:
		err = o.transition(ctx, sessionID, types.StatusNaming)
		if err == nil {
			stats, err = o.stages.Name.Run(ctx, sessionID)
		}
	default:
		return fmt.Errorf("unknown stage: %s", stage)
	}
	if err != nil {
		return err
	}

	record, err := types.NewStageStats(stage, stats)
	if err != nil {
		return fmt.Errorf("failed to encode stage stats: %w", err)
	}
	if err := o.store.UpdateSessionStats(ctx, sessionID, record); err != nil {
		return fmt.Errorf("failed to persist stage stats: %w", err)
	}

	slog.Info("pipeline: stage complete", "session", sessionID, "stage", stage,
		"duration", time.Since(started))
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, sessionID string, status types.PipelineStatus) error {
	if err := o.store.UpdateSessionStatus(ctx, sessionID, status, ""); err != nil {
		return fmt.Errorf("failed to transition to %s: %w", status, err)
	}
	return nil
}
