package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce_PassthroughWhenAlreadySmall(t *testing.T) {
	cfg := DefaultReduceConfig()
	cfg.OutputDims = 3
	r, err := NewReducer(cfg)
	require.NoError(t, err)

	vectors := [][]float32{
		{1, 2, 3},
		{4, 5, 6},
	}
	reduced, err := r.Reduce("k1", vectors)
	require.NoError(t, err)
	require.Len(t, reduced, 2)
	assert.Equal(t, []float64{1, 2, 3}, reduced[0])
	assert.Equal(t, []float64{4, 5, 6}, reduced[1])
}

func TestReduce_PassthroughWhenTooFewPoints(t *testing.T) {
	r, err := NewReducer(DefaultReduceConfig())
	require.NoError(t, err)

	// Two points in ten dimensions: too few to project, returned as-is.
	vectors := [][]float32{
		make([]float32, 10),
		make([]float32, 10),
	}
	reduced, err := r.Reduce("k1", vectors)
	require.NoError(t, err)
	require.Len(t, reduced, 2)
	assert.Len(t, reduced[0], 10)
}

func TestReduce_CachesResult(t *testing.T) {
	cfg := DefaultReduceConfig()
	cfg.OutputDims = 2
	r, err := NewReducer(cfg)
	require.NoError(t, err)

	vectors := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	first, err := r.Reduce("same-key", vectors)
	require.NoError(t, err)

	second, err := r.Reduce("same-key", vectors)
	require.NoError(t, err)

	// The cached slice comes back, not a fresh copy.
	require.Len(t, second, len(first))
	assert.Same(t, &first[0][0], &second[0][0])
}

func TestReduce_EmptyInput(t *testing.T) {
	r, err := NewReducer(DefaultReduceConfig())
	require.NoError(t, err)

	reduced, err := r.Reduce("k1", nil)
	require.NoError(t, err)
	assert.Nil(t, reduced)
}

func TestReduce_MismatchedDimensions(t *testing.T) {
	r, err := NewReducer(DefaultReduceConfig())
	require.NoError(t, err)

	_, err = r.Reduce("k1", [][]float32{{1, 2, 3}, {1, 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestReduceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ReduceConfig)
		wantErr bool
	}{
		{"defaults", func(c *ReduceConfig) {}, false},
		{"zero output dims", func(c *ReduceConfig) { c.OutputDims = 0 }, true},
		{"negative perplexity", func(c *ReduceConfig) { c.Perplexity = -1 }, true},
		{"zero max iter", func(c *ReduceConfig) { c.MaxIter = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultReduceConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
