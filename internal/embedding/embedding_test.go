package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/storage/sqlite"
	"github.com/quarrylabs/quarry/internal/types"
)

// fakeEmbedder returns a fixed-dimension vector per text, or fails whole
// calls when errEvery is set.
type fakeEmbedder struct {
	calls    int
	failCall int // 1-based call number to fail, 0 = never
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failCall != 0 && f.calls == f.failCall {
		return nil, errors.New("503 service unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vectors, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerMin = 600000 // effectively unlimited in tests
	return cfg
}

func newTestStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateSession(context.Background(), &types.Session{
		ID: "s1", Status: types.StatusNotStarted, CreatedAt: time.Now(),
	}))
	return store
}

func seedCanonical(t *testing.T, store *sqlite.SQLiteStorage, id, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &types.Document{
		ID: id, SessionID: "s1", Content: content, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.UpdateTriage(ctx, id, types.TriageFirmDrafted, 0.9, ""))
	require.NoError(t, store.MarkDuplicateGroup(ctx, "g-"+id, id, "h-"+id, []string{id}))
}

func TestRun_EmbedsCanonicalDocuments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCanonical(t, store, "d1", "lease draft")
	seedCanonical(t, store, "d2", "engagement letter")

	generator, err := New(store, &fakeEmbedder{}, testConfig())
	require.NoError(t, err)

	stats, err := generator.Run(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Embedded)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)

	doc, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, doc.Embedded())
	assert.Len(t, doc.Embedding, 3)
}

func TestRun_SkipsAlreadyEmbedded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCanonical(t, store, "d1", "already done")
	seedCanonical(t, store, "d2", "pending")
	require.NoError(t, store.UpdateEmbedding(ctx, "d1", []float32{9, 9, 9}))

	embedder := &fakeEmbedder{}
	generator, err := New(store, embedder, testConfig())
	require.NoError(t, err)

	stats, err := generator.Run(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, embedder.calls)

	// The previous vector is untouched.
	doc, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9}, doc.Embedding)
}

func TestRun_FailedBatchExcludedNotFatal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := testConfig()
	cfg.BatchSize = 1

	seedCanonical(t, store, "d1", "first")
	seedCanonical(t, store, "d2", "second")

	generator, err := New(store, &fakeEmbedder{failCall: 1}, cfg)
	require.NoError(t, err)

	stats, err := generator.Run(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 1, stats.Failed)

	// The failed document stays unembedded; a rerun retries it.
	doc, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, doc.Embedded())
}

func TestRun_IgnoresNonCanonical(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCanonical(t, store, "d1", "canonical")

	// FirmDrafted duplicate, not canonical.
	require.NoError(t, store.CreateDocument(ctx, &types.Document{
		ID: "d2", SessionID: "s1", Content: "canonical", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.UpdateTriage(ctx, "d2", types.TriageFirmDrafted, 0.9, ""))
	require.NoError(t, store.MarkDuplicateGroup(ctx, "g1", "d1", "h1", []string{"d1", "d2"}))

	embedder := &fakeEmbedder{}
	generator, err := New(store, embedder, testConfig())
	require.NoError(t, err)

	stats, err := generator.Run(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Embedded)

	doc, err := store.GetDocument(ctx, "d2")
	require.NoError(t, err)
	assert.False(t, doc.Embedded())
}

func TestRun_TruncatesLongInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := testConfig()
	cfg.MaxInputChars = 10

	long := "0123456789ABCDEF"
	seedCanonical(t, store, "d1", long)

	recorder := &recordingEmbedder{}
	generator, err := New(store, recorder, cfg)
	require.NoError(t, err)

	_, err = generator.Run(ctx, "s1")
	require.NoError(t, err)

	require.Len(t, recorder.inputs, 1)
	assert.Equal(t, "0123456789", recorder.inputs[0])
}

type recordingEmbedder struct {
	inputs []string
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.inputs = append(r.inputs, texts...)
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1}
	}
	return vectors, nil
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RequestsPerMin = 0
	assert.Error(t, cfg.Validate())
}
