// Package embedding generates fixed-length vectors for the session's
// canonical FirmDrafted documents through an external embedding service.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/types"
)

// Embedder is the external embedding service. One call embeds a batch of
// texts and returns one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds embedding stage configuration
type Config struct {
	BatchSize      int     // Texts per service call (default: 128)
	RequestsPerMin float64 // Rate limit on service calls (default: 60)
	MaxInputChars  int     // Text truncation point before embedding (default: 16000)
}

// DefaultConfig returns the default embedding configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:      128,
		RequestsPerMin: 60,
		MaxInputChars:  16000,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1 (got %d)", c.BatchSize)
	}
	if c.RequestsPerMin <= 0 {
		return fmt.Errorf("requests_per_min must be positive (got %v)", c.RequestsPerMin)
	}
	return nil
}

// Generator runs the embedding stage for a session.
type Generator struct {
	store    storage.Storage
	embedder Embedder
	limiter  *rate.Limiter
	cfg      Config
}

// New creates an embedding generator.
func New(store storage.Storage, embedder Embedder, cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding config: %w", err)
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerMin/60.0), 1)
	return &Generator{store: store, embedder: embedder, limiter: limiter, cfg: cfg}, nil
}

// Run embeds every canonical FirmDrafted document that does not already
// carry a vector. Already-embedded documents are skipped, so reruns only
// touch what a previous run left unfinished. A failed service call marks
// that batch's documents as errored (they are excluded from later stages)
// without failing the stage.
func (g *Generator) Run(ctx context.Context, sessionID string) (*types.EmbeddingStats, error) {
	stats := &types.EmbeddingStats{}

	docs, err := g.store.FindCanonicalFirmDrafted(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find canonical documents: %w", err)
	}

	var pending []*types.Document
	for _, doc := range docs {
		if doc.Embedded() {
			stats.Skipped++
			continue
		}
		pending = append(pending, doc)
	}

	if len(pending) == 0 {
		slog.Info("embedding: nothing to embed", "session", sessionID, "skipped", stats.Skipped)
		return stats, nil
	}

	slog.Info("embedding: generating vectors", "session", sessionID,
		"documents", len(pending), "batch_size", g.cfg.BatchSize)

	for start := 0; start < len(pending); start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}

		texts := make([]string, 0, len(batch))
		for _, doc := range batch {
			text := doc.Content
			if len(text) > g.cfg.MaxInputChars {
				text = text[:g.cfg.MaxInputChars]
			}
			texts = append(texts, text)
		}

		started := time.Now()
		vectors, err := g.embedder.Embed(ctx, texts)
		if err != nil {
			// Item-level failure policy: this batch's documents stay
			// unembedded and are excluded downstream; later batches proceed.
			slog.Warn("embedding: batch failed, documents left unembedded",
				"session", sessionID, "batch_start", start, "size", len(batch), "error", err)
			stats.Failed += len(batch)
			continue
		}
		if len(vectors) != len(batch) {
			slog.Warn("embedding: service returned wrong vector count",
				"expected", len(batch), "got", len(vectors))
			stats.Failed += len(batch)
			continue
		}

		for i, doc := range batch {
			if len(vectors[i]) == 0 {
				stats.Failed++
				continue
			}
			if err := g.store.UpdateEmbedding(ctx, doc.ID, vectors[i]); err != nil {
				return nil, fmt.Errorf("failed to persist embedding for %s: %w", doc.ID, err)
			}
			stats.Embedded++
		}

		slog.Debug("embedding: batch done", "size", len(batch), "duration", time.Since(started))
	}

	slog.Info("embedding: completed", "session", sessionID,
		"embedded", stats.Embedded, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}
