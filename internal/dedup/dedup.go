// Package dedup groups a session's FirmDrafted documents by normalized
// content hash and selects one canonical representative per group.
//
// Only FirmDrafted documents are deduplicated: third-party, irrelevant, and
// court documents never enter the training corpus, so collapsing them buys
// nothing. Non-canonical members are flagged but retained for audit.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/types"
)

// Deduplicator runs the dedup stage for a session.
type Deduplicator struct {
	store storage.Storage
}

// New creates a deduplicator.
func New(store storage.Storage) *Deduplicator {
	return &Deduplicator{store: store}
}

// Run hashes every FirmDrafted document, groups by hash, and marks exactly
// one canonical member per group. Rerunning recomputes the same groups and
// the same canonicals: hashing and tie-breaking are both deterministic.
func (d *Deduplicator) Run(ctx context.Context, sessionID string) (*types.DedupStats, error) {
	docs, err := d.store.FindFirmDrafted(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find FirmDrafted documents: %w", err)
	}

	stats := &types.DedupStats{}
	if len(docs) == 0 {
		slog.Info("dedup: nothing to deduplicate", "session", sessionID)
		return stats, nil
	}

	groups := make(map[string][]*types.Document)
	for _, doc := range docs {
		hash := HashContent(doc.Content)
		groups[hash] = append(groups[hash], doc)
	}

	// Deterministic group iteration keeps logs and generated group ids
	// stable-ish across reruns (the grouping itself never depends on order).
	hashes := make([]string, 0, len(groups))
	for hash := range groups {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	for _, hash := range hashes {
		members := groups[hash]
		canonical := SelectCanonical(members)

		groupID := groupIDFor(members)
		memberIDs := make([]string, 0, len(members))
		for _, m := range members {
			memberIDs = append(memberIDs, m.ID)
		}

		if err := d.store.MarkDuplicateGroup(ctx, groupID, canonical.ID, hash, memberIDs); err != nil {
			return nil, fmt.Errorf("failed to mark duplicate group for hash %s: %w", hash, err)
		}

		stats.Groups++
		stats.Canonical++
		stats.Duplicates += len(members) - 1
	}

	slog.Info("dedup: completed", "session", sessionID,
		"groups", stats.Groups, "canonical", stats.Canonical, "duplicates", stats.Duplicates)
	return stats, nil
}

// HashContent computes the normalized-content hash used for duplicate
// grouping. Normalization collapses whitespace runs and lowercases, so
// incidental formatting differences (reflowed text, trailing spaces, CRLF)
// do not defeat identity.
func HashContent(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SelectCanonical picks the group's representative deterministically:
// most complete metadata, then earliest creation time, then lowest id.
// The same members always yield the same canonical, regardless of input
// order, so reruns never flip the flag between members.
func SelectCanonical(members []*types.Document) *types.Document {
	best := members[0]
	for _, candidate := range members[1:] {
		if betterCanonical(candidate, best) {
			best = candidate
		}
	}
	return best
}

func betterCanonical(a, b *types.Document) bool {
	if ac, bc := a.MetadataCompleteness(), b.MetadataCompleteness(); ac != bc {
		return ac > bc
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// groupIDFor reuses an existing group id when the group was already marked
// on a prior run; otherwise it mints a new one.
func groupIDFor(members []*types.Document) string {
	for _, m := range members {
		if m.DuplicateGroupID != nil && *m.DuplicateGroupID != "" {
			return *m.DuplicateGroupID
		}
	}
	return uuid.NewString()
}
