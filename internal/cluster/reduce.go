// Package cluster groups embedded documents into clusters through
// dimension reduction followed by density clustering, and names the
// resulting clusters.
package cluster

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/danaugrs/go-tsne/tsne"
	gocache "github.com/patrickmn/go-cache"
	"gonum.org/v1/gonum/mat"
)

// ReduceConfig holds dimension reduction configuration
type ReduceConfig struct {
	OutputDims int     // Reduced dimensionality (default: 10)
	Perplexity float64 // t-SNE perplexity (default: 30)
	LearnRate  float64 // t-SNE learning rate (default: 200)
	MaxIter    int     // t-SNE iteration cap (default: 1000)
}

// DefaultReduceConfig returns the default reduction configuration
func DefaultReduceConfig() ReduceConfig {
	return ReduceConfig{
		OutputDims: 10,
		Perplexity: 30,
		LearnRate:  200,
		MaxIter:    1000,
	}
}

// Validate checks if the configuration has valid values
func (c ReduceConfig) Validate() error {
	if c.OutputDims < 1 {
		return fmt.Errorf("output_dims must be at least 1 (got %d)", c.OutputDims)
	}
	if c.Perplexity <= 0 {
		return fmt.Errorf("perplexity must be positive (got %v)", c.Perplexity)
	}
	if c.MaxIter < 1 {
		return fmt.Errorf("max_iter must be at least 1 (got %d)", c.MaxIter)
	}
	return nil
}

// Reducer projects high-dimensional embeddings down to a small number of
// dimensions. Reduced coordinates are cached per session for the life of
// the process, so a re-clustering pass after a naming failure does not
// repeat the projection.
type Reducer struct {
	cfg   ReduceConfig
	cache *gocache.Cache
}

// NewReducer creates a reducer with a session-scoped result cache.
func NewReducer(cfg ReduceConfig) (*Reducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reduce config: %w", err)
	}
	return &Reducer{
		cfg:   cfg,
		cache: gocache.New(1*time.Hour, 10*time.Minute),
	}, nil
}

// Reduce projects vectors to cfg.OutputDims dimensions. cacheKey scopes
// the cached projection; pass the session ID plus a fingerprint of the
// input set. Small inputs are returned as-is when they already fit the
// target dimensionality or are too few for a meaningful projection.
func (r *Reducer) Reduce(cacheKey string, vectors [][]float32) ([][]float64, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	if cached, ok := r.cache.Get(cacheKey); ok {
		slog.Debug("reduce: cache hit", "key", cacheKey)
		return cached.([][]float64), nil
	}

	inDims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != inDims {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), inDims)
		}
	}

	var reduced [][]float64
	if inDims <= r.cfg.OutputDims || len(vectors) <= r.cfg.OutputDims+1 {
		reduced = widen(vectors)
	} else {
		started := time.Now()
		slog.Info("reduce: running t-SNE", "points", len(vectors),
			"input_dims", inDims, "output_dims", r.cfg.OutputDims)

		data := mat.NewDense(len(vectors), inDims, nil)
		for i, v := range vectors {
			for j, x := range v {
				data.Set(i, j, float64(x))
			}
		}

		perplexity := r.cfg.Perplexity
		// t-SNE requires perplexity well under the point count.
		if limit := float64(len(vectors)-1) / 3.0; perplexity > limit {
			perplexity = limit
		}

		t := tsne.NewTSNE(r.cfg.OutputDims, perplexity, r.cfg.LearnRate, r.cfg.MaxIter, false)
		embedded := t.EmbedData(data, nil)

		rows, cols := embedded.Dims()
		reduced = make([][]float64, rows)
		for i := 0; i < rows; i++ {
			reduced[i] = make([]float64, cols)
			for j := 0; j < cols; j++ {
				reduced[i][j] = embedded.At(i, j)
			}
		}
		slog.Info("reduce: t-SNE done", "duration", time.Since(started))
	}

	r.cache.Set(cacheKey, reduced, gocache.DefaultExpiration)
	return reduced, nil
}

func widen(vectors [][]float32) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = make([]float64, len(v))
		for j, x := range v {
			out[i][j] = float64(x)
		}
	}
	return out
}
