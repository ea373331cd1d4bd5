package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/storage/sqlite"
	"github.com/quarrylabs/quarry/internal/types"
)

func TestHashContent_NormalizesWhitespaceAndCase(t *testing.T) {
	base := HashContent("This is a Draft Lease Agreement.")

	assert.Equal(t, base, HashContent("this is a draft   lease\nagreement."))
	assert.Equal(t, base, HashContent("  THIS IS A DRAFT LEASE AGREEMENT.  "))
	assert.NotEqual(t, base, HashContent("this is a draft lease agreement"))
}

func TestSelectCanonical_PrefersCompleteMetadata(t *testing.T) {
	sparse := &types.Document{ID: "a", CreatedAt: time.Unix(100, 0)}
	rich := &types.Document{ID: "b", Subject: "lease", Sender: "x@firm.com", CreatedAt: time.Unix(200, 0)}

	assert.Equal(t, "b", SelectCanonical([]*types.Document{sparse, rich}).ID)
	assert.Equal(t, "b", SelectCanonical([]*types.Document{rich, sparse}).ID)
}

func TestSelectCanonical_TieBreaksOnCreatedAtThenID(t *testing.T) {
	older := &types.Document{ID: "z", CreatedAt: time.Unix(100, 0)}
	newer := &types.Document{ID: "a", CreatedAt: time.Unix(200, 0)}

	assert.Equal(t, "z", SelectCanonical([]*types.Document{newer, older}).ID)

	sameTime1 := &types.Document{ID: "b", CreatedAt: time.Unix(100, 0)}
	sameTime2 := &types.Document{ID: "a", CreatedAt: time.Unix(100, 0)}

	assert.Equal(t, "a", SelectCanonical([]*types.Document{sameTime1, sameTime2}).ID)
	assert.Equal(t, "a", SelectCanonical([]*types.Document{sameTime2, sameTime1}).ID)
}

func seedFirmDrafted(t *testing.T, store *sqlite.SQLiteStorage, sessionID, id, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &types.Document{
		ID:        id,
		SessionID: sessionID,
		Content:   content,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, store.UpdateTriage(ctx, id, types.TriageFirmDrafted, 0.9, ""))
}

func TestRun_CollapsesDuplicatePairs(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession(ctx, &types.Session{
		ID: "s1", Status: types.StatusNotStarted, CreatedAt: time.Now(),
	}))

	// Six FirmDrafted documents: two duplicate pairs plus two unique ones.
	seedFirmDrafted(t, store, "s1", "d1", "Lease agreement draft v1")
	seedFirmDrafted(t, store, "s1", "d2", "lease  agreement DRAFT v1")
	seedFirmDrafted(t, store, "s1", "d3", "Engagement letter for Smith")
	seedFirmDrafted(t, store, "s1", "d4", "engagement letter for smith")
	seedFirmDrafted(t, store, "s1", "d5", "Discovery response draft")
	seedFirmDrafted(t, store, "s1", "d6", "Settlement memo")

	// A non-FirmDrafted duplicate of d1 must not join any group.
	require.NoError(t, store.CreateDocument(ctx, &types.Document{
		ID: "d7", SessionID: "s1", Content: "Lease agreement draft v1", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.UpdateTriage(ctx, "d7", types.TriageThirdParty, 0.9, ""))

	stats, err := New(store).Run(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Groups)
	assert.Equal(t, 4, stats.Canonical)
	assert.Equal(t, 2, stats.Duplicates)

	canonical, err := store.FindCanonicalFirmDrafted(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, canonical, 4)

	d7, err := store.GetDocument(ctx, "d7")
	require.NoError(t, err)
	assert.Nil(t, d7.DuplicateGroupID)
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession(ctx, &types.Session{
		ID: "s1", Status: types.StatusNotStarted, CreatedAt: time.Now(),
	}))
	seedFirmDrafted(t, store, "s1", "d1", "same content")
	seedFirmDrafted(t, store, "s1", "d2", "same content")

	dedup := New(store)
	_, err = dedup.Run(ctx, "s1")
	require.NoError(t, err)

	first, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, first.DuplicateGroupID)
	firstGroup := *first.DuplicateGroupID

	stats, err := dedup.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Groups)

	// The group id minted on the first run survives the rerun.
	again, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, again.DuplicateGroupID)
	assert.Equal(t, firstGroup, *again.DuplicateGroupID)

	canonical, err := store.FindCanonicalFirmDrafted(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, canonical, 1)
}

func TestRun_EmptySession(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession(ctx, &types.Session{
		ID: "s1", Status: types.StatusNotStarted, CreatedAt: time.Now(),
	}))

	stats, err := New(store).Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, &types.DedupStats{}, stats)
}
