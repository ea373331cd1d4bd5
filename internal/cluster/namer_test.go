package cluster

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/storage/sqlite"
	"github.com/quarrylabs/quarry/internal/types"
)

type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt, _, _ string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func seedCluster(t *testing.T, store *sqlite.SQLiteStorage, id string, isNoise bool, memberIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateCluster(ctx, &types.Cluster{
		ID: id, SessionID: "s1", MemberCount: len(memberIDs),
		IsNoise: isNoise, CreatedAt: time.Now(),
	}))
	for i, docID := range memberIDs {
		require.NoError(t, store.CreateDocument(ctx, &types.Document{
			ID: docID, SessionID: "s1",
			Subject: "Lease draft " + docID, Content: "Tenant shall pay rent...",
			CreatedAt: time.Now(),
		}))
		require.NoError(t, store.AssignCluster(ctx, docID, id, 1.0-float64(i)*0.1))
	}
}

func TestNamerRun_NamesUnnamedClusters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCluster(t, store, "c1", false, "d1", "d2")
	seedCluster(t, store, "c2", false, "d3")

	completer := &fakeCompleter{response: `{"name": "Lease Agreement Drafts", "description": "Draft leases."}`}
	namer, err := NewNamer(store, completer, DefaultNamerConfig())
	require.NoError(t, err)

	stats, err := namer.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Named)
	assert.Equal(t, 0, stats.Failed)

	clusters, err := store.ListClusters(ctx, "s1")
	require.NoError(t, err)
	for _, c := range clusters {
		assert.Equal(t, "Lease Agreement Drafts", c.Name)
	}
}

func TestNamerRun_SkipsNoiseAndNamed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCluster(t, store, "noise", true, "d1")
	seedCluster(t, store, "named", false, "d2")
	require.NoError(t, store.UpdateClusterName(ctx, "named", "Engagement Letters"))

	completer := &fakeCompleter{response: `{"name": "Should Not Appear"}`}
	namer, err := NewNamer(store, completer, DefaultNamerConfig())
	require.NoError(t, err)

	stats, err := namer.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Named)
	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, completer.prompts)

	clusters, err := store.ListClusters(ctx, "s1")
	require.NoError(t, err)
	for _, c := range clusters {
		if c.ID == "named" {
			assert.Equal(t, "Engagement Letters", c.Name)
		} else {
			assert.Empty(t, c.Name)
		}
	}
}

func TestNamerRun_FailureLeavesClusterUnnamed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCluster(t, store, "c1", false, "d1")

	completer := &fakeCompleter{err: fmt.Errorf("model unavailable")}
	namer, err := NewNamer(store, completer, DefaultNamerConfig())
	require.NoError(t, err)

	stats, err := namer.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Named)
	assert.Equal(t, 1, stats.Failed)

	unnamed, err := store.FindUnnamedClusters(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, unnamed, 1)
}

func TestNamerRun_UnparseableResponseCountsAsFailed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCluster(t, store, "c1", false, "d1")

	completer := &fakeCompleter{response: "I cannot name this cluster."}
	namer, err := NewNamer(store, completer, DefaultNamerConfig())
	require.NoError(t, err)

	stats, err := namer.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestNamerRun_EmptyNameCountsAsFailed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCluster(t, store, "c1", false, "d1")

	completer := &fakeCompleter{response: `{"name": "   "}`}
	namer, err := NewNamer(store, completer, DefaultNamerConfig())
	require.NoError(t, err)

	stats, err := namer.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestNamerRun_SamplesHighestConfidenceMembers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := DefaultNamerConfig()
	cfg.SampleSize = 2
	seedCluster(t, store, "c1", false, "d1", "d2", "d3", "d4")

	completer := &fakeCompleter{response: `{"name": "Discovery Responses"}`}
	namer, err := NewNamer(store, completer, cfg)
	require.NoError(t, err)

	_, err = namer.Run(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, completer.prompts, 1)

	prompt := completer.prompts[0]
	assert.Contains(t, prompt, "Lease draft d1")
	assert.Contains(t, prompt, "Lease draft d2")
	assert.NotContains(t, prompt, "Lease draft d3")
	assert.Contains(t, prompt, "sampled from 4 members")
}

func TestNamerRun_TruncatesLongExcerpts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := DefaultNamerConfig()
	cfg.MaxSampleChars = 20
	require.NoError(t, store.CreateCluster(ctx, &types.Cluster{
		ID: "c1", SessionID: "s1", MemberCount: 1, CreatedAt: time.Now(),
	}))
	long := strings.Repeat("x", 100)
	require.NoError(t, store.CreateDocument(ctx, &types.Document{
		ID: "d1", SessionID: "s1", Content: long, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.AssignCluster(ctx, "d1", "c1", 1.0))

	completer := &fakeCompleter{response: `{"name": "Filler"}`}
	namer, err := NewNamer(store, completer, cfg)
	require.NoError(t, err)

	_, err = namer.Run(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, completer.prompts, 1)
	assert.Contains(t, completer.prompts[0], strings.Repeat("x", 20)+"...")
	assert.NotContains(t, completer.prompts[0], strings.Repeat("x", 21))
}

func TestNamerConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultNamerConfig().Validate())

	cfg := DefaultNamerConfig()
	cfg.SampleSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultNamerConfig()
	cfg.MaxTokens = 0
	assert.Error(t, cfg.Validate())
}
