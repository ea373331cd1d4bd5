package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/types"
)

// Engine runs the clustering stage in two phases: Reduce projects the
// session's embeddings down to clustering coordinates, Assign density-
// clusters the coordinates and persists cluster rows and memberships.
type Engine struct {
	store   storage.Storage
	reducer *Reducer
	dbscan  DBSCANConfig
}

// NewEngine creates a clustering engine.
func NewEngine(store storage.Storage, reduceCfg ReduceConfig, dbscanCfg DBSCANConfig) (*Engine, error) {
	if err := dbscanCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dbscan config: %w", err)
	}
	reducer, err := NewReducer(reduceCfg)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, reducer: reducer, dbscan: dbscanCfg}, nil
}

// Prepared carries reduced coordinates from Reduce to Assign.
type Prepared struct {
	sessionID string
	docs      []*types.Document
	reduced   [][]float64
}

// Empty reports whether there is nothing to cluster.
func (p *Prepared) Empty() bool { return p == nil || len(p.docs) == 0 }

// Reduce loads the session's canonical, embedded FirmDrafted documents and
// projects their embeddings to clustering coordinates. The projection is
// cached per input set, so repeating the stage in the same process skips
// straight to assignment.
func (e *Engine) Reduce(ctx context.Context, sessionID string) (*Prepared, error) {
	candidates, err := e.store.FindCanonicalFirmDrafted(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find canonical documents: %w", err)
	}

	var docs []*types.Document
	for _, doc := range candidates {
		if doc.Embedded() {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		slog.Info("cluster: no embedded documents", "session", sessionID)
		return &Prepared{sessionID: sessionID}, nil
	}

	vectors := make([][]float32, len(docs))
	for i, doc := range docs {
		vectors[i] = doc.Embedding
	}

	reduced, err := e.reducer.Reduce(reduceCacheKey(sessionID, docs), vectors)
	if err != nil {
		return nil, fmt.Errorf("dimension reduction failed: %w", err)
	}
	return &Prepared{sessionID: sessionID, docs: docs, reduced: reduced}, nil
}

// Assign density-clusters the prepared coordinates and persists the result.
// Clusters from any previous attempt are cleared first, so a rerun rebuilds
// the assignment from scratch. Every prepared document ends up assigned:
// points the clustering rejects go to a reserved noise pseudo-cluster with
// confidence zero.
func (e *Engine) Assign(ctx context.Context, p *Prepared) (*types.ClusterStats, error) {
	if err := e.store.ClearClusters(ctx, p.sessionID); err != nil {
		return nil, fmt.Errorf("failed to clear previous clusters: %w", err)
	}
	if p.Empty() {
		return &types.ClusterStats{}, nil
	}

	labels, err := DBSCAN(p.reduced, e.dbscan)
	if err != nil {
		return nil, fmt.Errorf("density clustering failed: %w", err)
	}

	// Group member indices by label. Noise shares the reserved pseudo-cluster.
	groups := make(map[int][]int)
	for i, label := range labels {
		groups[label] = append(groups[label], i)
	}
	labelOrder := make([]int, 0, len(groups))
	for label := range groups {
		labelOrder = append(labelOrder, label)
	}
	sort.Ints(labelOrder)

	stats := &types.ClusterStats{}
	maxSize := 0
	totalClustered := 0

	for _, label := range labelOrder {
		members := groups[label]
		isNoise := label == Noise

		cluster := &types.Cluster{
			ID:          uuid.NewString(),
			SessionID:   p.sessionID,
			MemberCount: len(members),
			IsNoise:     isNoise,
			CreatedAt:   time.Now(),
		}
		if err := e.store.CreateCluster(ctx, cluster); err != nil {
			return nil, fmt.Errorf("failed to create cluster: %w", err)
		}

		centroid := centroidOf(p.reduced, members)
		for _, i := range members {
			confidence := 0.0
			if !isNoise {
				confidence = 1.0 / (1.0 + floats.Distance(p.reduced[i], centroid, 2))
			}
			if err := e.store.AssignCluster(ctx, p.docs[i].ID, cluster.ID, confidence); err != nil {
				return nil, fmt.Errorf("failed to assign document %s: %w", p.docs[i].ID, err)
			}
		}

		if isNoise {
			stats.NoiseCount = len(members)
		} else {
			stats.Clusters++
			totalClustered += len(members)
			if len(members) > maxSize {
				maxSize = len(members)
			}
		}
	}

	stats.MaxClusterSize = maxSize
	if stats.Clusters > 0 {
		stats.AvgClusterSize = float64(totalClustered) / float64(stats.Clusters)
	}

	slog.Info("cluster: completed", "session", p.sessionID, "clusters", stats.Clusters,
		"noise", stats.NoiseCount, "max_size", stats.MaxClusterSize)
	return stats, nil
}

// Run performs both phases back to back.
func (e *Engine) Run(ctx context.Context, sessionID string) (*types.ClusterStats, error) {
	prepared, err := e.Reduce(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.Assign(ctx, prepared)
}

// reduceCacheKey fingerprints the input set so the reducer's cache is only
// reused when the same documents are clustered again within this process.
func reduceCacheKey(sessionID string, docs []*types.Document) string {
	h := sha256.New()
	for _, doc := range docs {
		h.Write([]byte(doc.ID))
		h.Write([]byte{0})
	}
	return sessionID + ":" + hex.EncodeToString(h.Sum(nil)[:8])
}

func centroidOf(points [][]float64, members []int) []float64 {
	if len(members) == 0 {
		return nil
	}
	dims := len(points[members[0]])
	centroid := make([]float64, dims)
	for _, i := range members {
		floats.Add(centroid, points[i])
	}
	floats.Scale(1.0/float64(len(members)), centroid)
	return centroid
}
