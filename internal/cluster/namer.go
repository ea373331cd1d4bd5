package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quarrylabs/quarry/internal/ai"
	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/types"
)

// NamerConfig holds cluster naming configuration
type NamerConfig struct {
	SampleSize     int // Member documents quoted per naming prompt (default: 5)
	MaxSampleChars int // Per-document excerpt length (default: 1500)
	MaxTokens      int // Response token cap (default: 256)
}

// DefaultNamerConfig returns the default naming configuration
func DefaultNamerConfig() NamerConfig {
	return NamerConfig{
		SampleSize:     5,
		MaxSampleChars: 1500,
		MaxTokens:      256,
	}
}

// Validate checks if the configuration has valid values
func (c NamerConfig) Validate() error {
	if c.SampleSize < 1 {
		return fmt.Errorf("sample_size must be at least 1 (got %d)", c.SampleSize)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1 (got %d)", c.MaxTokens)
	}
	return nil
}

// Completer is the single-prompt completion surface the namer needs.
// *ai.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt, operation, model string, maxTokens int) (string, error)
}

// Namer assigns a short descriptive label to each cluster by showing a
// model a sample of the cluster's highest-confidence members.
type Namer struct {
	store  storage.Storage
	client Completer
	cfg    NamerConfig
}

// NewNamer creates a cluster namer.
func NewNamer(store storage.Storage, client Completer, cfg NamerConfig) (*Namer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid namer config: %w", err)
	}
	return &Namer{store: store, client: client, cfg: cfg}, nil
}

type nameResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Run names every cluster that does not have a name yet. Already-named
// clusters and the noise pseudo-cluster are never touched, so a rerun
// only fills in what a previous attempt left blank. A naming failure
// leaves that cluster unnamed without failing the stage.
func (n *Namer) Run(ctx context.Context, sessionID string) (*types.NamingStats, error) {
	stats := &types.NamingStats{}

	unnamed, err := n.store.FindUnnamedClusters(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find unnamed clusters: %w", err)
	}

	all, err := n.store.ListClusters(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	for _, c := range all {
		if c.IsNoise || c.Name != "" {
			stats.Skipped++
		}
	}

	if len(unnamed) == 0 {
		slog.Info("naming: nothing to name", "session", sessionID, "skipped", stats.Skipped)
		return stats, nil
	}

	slog.Info("naming: labeling clusters", "session", sessionID, "clusters", len(unnamed))

	for _, cluster := range unnamed {
		name, err := n.nameOne(ctx, cluster)
		if err != nil {
			slog.Warn("naming: cluster left unnamed", "cluster", cluster.ID, "error", err)
			stats.Failed++
			continue
		}
		if err := n.store.UpdateClusterName(ctx, cluster.ID, name); err != nil {
			return nil, fmt.Errorf("failed to persist name for cluster %s: %w", cluster.ID, err)
		}
		stats.Named++
	}

	slog.Info("naming: completed", "session", sessionID,
		"named", stats.Named, "failed", stats.Failed, "skipped", stats.Skipped)
	return stats, nil
}

func (n *Namer) nameOne(ctx context.Context, cluster *types.Cluster) (string, error) {
	members, err := n.store.FindClusterMembers(ctx, cluster.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load members: %w", err)
	}
	if len(members) == 0 {
		return "", fmt.Errorf("cluster has no members")
	}
	if len(members) > n.cfg.SampleSize {
		members = members[:n.cfg.SampleSize]
	}

	prompt := n.buildPrompt(cluster, members)
	text, err := n.client.Complete(ctx, prompt, "cluster-naming", ai.SimpleTaskModel(), n.cfg.MaxTokens)
	if err != nil {
		return "", err
	}

	result := ai.Parse[nameResponse](text, "cluster name")
	if !result.Success {
		return "", fmt.Errorf("unparseable name response: %s", result.Error)
	}
	name := strings.TrimSpace(result.Data.Name)
	if name == "" {
		return "", fmt.Errorf("model returned an empty name")
	}
	return name, nil
}

func (n *Namer) buildPrompt(cluster *types.Cluster, members []*types.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, `These %d documents were grouped together because their content is similar.
They are drafted legal documents from one law firm's archive.

Propose a short category name (2-6 words) that describes what this group
has in common, suitable as a folder label. Examples of good names:
"Lease Agreement Drafts", "Discovery Responses - Smith Matter",
"Client Engagement Letters".

Respond ONLY with JSON:
{"name": "<category name>", "description": "<one sentence>"}

Documents (sampled from %d members):
`, len(members), cluster.MemberCount)

	for i, doc := range members {
		fmt.Fprintf(&b, "\n--- Document %d ---\n", i+1)
		if doc.Subject != "" {
			fmt.Fprintf(&b, "Subject: %s\n", doc.Subject)
		}
		content := doc.Content
		if len(content) > n.cfg.MaxSampleChars {
			content = content[:n.cfg.MaxSampleChars] + "..."
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
