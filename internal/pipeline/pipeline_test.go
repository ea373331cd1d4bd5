package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/cluster"
	"github.com/quarrylabs/quarry/internal/storage/sqlite"
	"github.com/quarrylabs/quarry/internal/types"
)

// The fake runners record each invocation and report the session status
// the orchestrator had set when they ran.

type stageCall struct {
	stage  string
	status types.PipelineStatus
}

type fakeStages struct {
	store    *sqlite.SQLiteStorage
	calls    []stageCall
	failAt   string
	recoverd [][]string
}

func (f *fakeStages) record(stage string) error {
	ctx := context.Background()
	session, err := f.store.GetSession(ctx, "s1")
	if err != nil {
		return err
	}
	f.calls = append(f.calls, stageCall{stage: stage, status: session.Status})
	if f.failAt == stage {
		return fmt.Errorf("%s blew up", stage)
	}
	return nil
}

type fakeTriage struct{ f *fakeStages }

func (r *fakeTriage) Run(ctx context.Context, sessionID string) (*types.TriageStats, error) {
	return &types.TriageStats{Total: 3}, r.f.record("triage")
}

func (r *fakeTriage) Recover(ctx context.Context, sessionID string, handles []string) (*types.TriageStats, error) {
	r.f.recoverd = append(r.f.recoverd, handles)
	return &types.TriageStats{Total: 1}, nil
}

type fakeDedup struct{ f *fakeStages }

func (r *fakeDedup) Run(ctx context.Context, sessionID string) (*types.DedupStats, error) {
	return &types.DedupStats{}, r.f.record("dedup")
}

type fakeEmbed struct{ f *fakeStages }

func (r *fakeEmbed) Run(ctx context.Context, sessionID string) (*types.EmbeddingStats, error) {
	return &types.EmbeddingStats{}, r.f.record("embed")
}

type fakeCluster struct{ f *fakeStages }

func (r *fakeCluster) Reduce(ctx context.Context, sessionID string) (*cluster.Prepared, error) {
	return &cluster.Prepared{}, r.f.record("reduce")
}

func (r *fakeCluster) Assign(ctx context.Context, p *cluster.Prepared) (*types.ClusterStats, error) {
	return &types.ClusterStats{}, r.f.record("assign")
}

type fakeName struct{ f *fakeStages }

func (r *fakeName) Run(ctx context.Context, sessionID string) (*types.NamingStats, error) {
	return &types.NamingStats{}, r.f.record("name")
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *sqlite.SQLiteStorage, *fakeStages) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fakeStages{store: store}
	orch := New(store, Stages{
		Triage:  &fakeTriage{f},
		Dedup:   &fakeDedup{f},
		Embed:   &fakeEmbed{f},
		Cluster: &fakeCluster{f},
		Name:    &fakeName{f},
	})
	return orch, store, f
}

func createSession(t *testing.T, store *sqlite.SQLiteStorage, status types.PipelineStatus) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &types.Session{
		ID: "s1", Name: "test", Status: status, CreatedAt: time.Now(),
	}))
}

func TestRun_ExecutesStagesInOrder(t *testing.T) {
	ctx := context.Background()
	orch, store, f := newTestOrchestrator(t)
	createSession(t, store, types.StatusNotStarted)

	require.NoError(t, orch.Run(ctx, "s1", false))

	want := []stageCall{
		{"triage", types.StatusTriaging},
		{"dedup", types.StatusDeduplicating},
		{"embed", types.StatusEmbedding},
		{"reduce", types.StatusClustering},
		{"assign", types.StatusReClustering},
		{"name", types.StatusNaming},
	}
	assert.Equal(t, want, f.calls)

	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReadyForValidation, session.Status)
	assert.Empty(t, session.LastError)
}

func TestRun_PersistsStatsPerStage(t *testing.T) {
	ctx := context.Background()
	orch, store, _ := newTestOrchestrator(t)
	createSession(t, store, types.StatusNotStarted)

	require.NoError(t, orch.Run(ctx, "s1", false))

	records, err := store.GetSessionStats(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 5)

	byStage := make(map[types.Stage]types.StageStats)
	for _, r := range records {
		byStage[r.Stage] = r
	}
	decoded, err := byStage[types.StageTriage].Decode()
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.(*types.TriageStats).Total)
}

func TestRun_StageFailureMarksSessionFailed(t *testing.T) {
	ctx := context.Background()
	orch, store, f := newTestOrchestrator(t)
	createSession(t, store, types.StatusNotStarted)
	f.failAt = "embed"

	err := orch.Run(ctx, "s1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed blew up")

	session, getErr := store.GetSession(ctx, "s1")
	require.NoError(t, getErr)
	assert.Equal(t, types.StatusFailed, session.Status)
	assert.Contains(t, session.LastError, "embed blew up")

	// Later stages never ran.
	last := f.calls[len(f.calls)-1]
	assert.Equal(t, "embed", last.stage)
}

func TestRun_RejectsUnknownSession(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	err := orch.Run(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRun_RejectsCompleteSession(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	createSession(t, store, types.StatusReadyForValidation)

	err := orch.Run(context.Background(), "s1", false)
	assert.ErrorIs(t, err, ErrSessionComplete)

	// force does not override completion.
	err = orch.Run(context.Background(), "s1", true)
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestRun_RejectsInProgressWithoutForce(t *testing.T) {
	ctx := context.Background()
	orch, store, f := newTestOrchestrator(t)
	createSession(t, store, types.StatusEmbedding)

	err := orch.Run(ctx, "s1", false)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, f.calls)

	// A stale status from a killed process can be forced past.
	require.NoError(t, orch.Run(ctx, "s1", true))
	assert.Len(t, f.calls, 6)
}

func TestRun_ExtractionCannotBeForced(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	createSession(t, store, types.StatusExtracting)

	err := orch.Run(context.Background(), "s1", true)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRun_ResumesFromFailed(t *testing.T) {
	orch, store, f := newTestOrchestrator(t)
	createSession(t, store, types.StatusFailed)

	require.NoError(t, orch.Run(context.Background(), "s1", false))
	assert.Len(t, f.calls, 6)
}

func TestRunFromStage_SkipsEarlierStages(t *testing.T) {
	ctx := context.Background()
	orch, store, f := newTestOrchestrator(t)
	createSession(t, store, types.StatusNotStarted)

	require.NoError(t, orch.RunFromStage(ctx, "s1", types.StageCluster, false))

	want := []stageCall{
		{"reduce", types.StatusClustering},
		{"assign", types.StatusReClustering},
		{"name", types.StatusNaming},
	}
	assert.Equal(t, want, f.calls)
}

func TestRunFromStage_RejectsInvalidStage(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	createSession(t, store, types.StatusNotStarted)

	err := orch.RunFromStage(context.Background(), "s1", types.Stage("bogus"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stage")
}

func TestRecover_DelegatesToTriage(t *testing.T) {
	orch, store, f := newTestOrchestrator(t)
	createSession(t, store, types.StatusFailed)

	stats, err := orch.Recover(context.Background(), "s1", []string{"batch-1", "batch-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	require.Len(t, f.recoverd, 1)
	assert.Equal(t, []string{"batch-1", "batch-2"}, f.recoverd[0])
}

func TestRecover_UnknownSession(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	_, err := orch.Recover(context.Background(), "missing", []string{"batch-1"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	orch, store, _ := newTestOrchestrator(t)
	createSession(t, store, types.StatusFailed)

	require.NoError(t, orch.Reset(ctx, "s1"))
	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotStarted, session.Status)

	// NotStarted is not resettable; neither is an in-progress run.
	assert.ErrorIs(t, orch.Reset(ctx, "s1"), ErrNotResettable)

	require.NoError(t, store.UpdateSessionStatus(ctx, "s1", types.StatusTriaging, ""))
	assert.ErrorIs(t, orch.Reset(ctx, "s1"), ErrNotResettable)

	assert.ErrorIs(t, orch.Reset(ctx, "missing"), ErrSessionNotFound)
}
