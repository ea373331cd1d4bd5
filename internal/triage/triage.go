// Package triage implements the first pipeline stage: bulk classification of
// every document in a session into a small fixed set of categories via an
// asynchronous batch inference service.
//
// Corpus sizes make per-document synchronous calls prohibitive, so the stage
// submits large batches, records the returned handles, and suspends on
// coarse-grained polling until each batch reaches a terminal state. Results
// are merged through a single idempotent path that skips documents already
// triaged, which is also what makes the detached recovery entry point safe
// to run any number of times against the same handles.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/internal/ai"
	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/types"
)

// ErrBatchIncomplete marks a batch that never reached a terminal state within
// the polling budget. Distinct from a batch the service reports as failed:
// an incomplete batch may still finish, and its handle stays valid for a
// later recovery pass.
var ErrBatchIncomplete = errors.New("batch has not reached a terminal state")

// ErrBatchFailed marks a batch the service moved to a failed state.
var ErrBatchFailed = errors.New("batch failed")

// Config holds triage stage configuration
type Config struct {
	BatchSize       int           // Max items per submitted batch (default: 1000)
	PollInterval    time.Duration // Initial poll interval (default: 30s)
	PollMaxInterval time.Duration // Poll backoff ceiling (default: 5m)
	PollTimeout     time.Duration // Per-batch polling budget (default: 2h)
	MaxPollBatches  int           // Batches polled concurrently (default: 4)
	Model           string        // Classification model (default: ai.DefaultModel())
	MaxTokens       int           // Per-item completion budget (default: 1024)
	MaxPromptChars  int           // Document text truncation point (default: 8000)
}

// DefaultConfig returns the default triage configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:       1000,
		PollInterval:    30 * time.Second,
		PollMaxInterval: 5 * time.Minute,
		PollTimeout:     2 * time.Hour,
		MaxPollBatches:  4,
		MaxTokens:       1024,
		MaxPromptChars:  8000,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1 (got %d)", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %v)", c.PollInterval)
	}
	if c.PollMaxInterval < c.PollInterval {
		return fmt.Errorf("poll_max_interval (%v) must be >= poll_interval (%v)", c.PollMaxInterval, c.PollInterval)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive (got %v)", c.PollTimeout)
	}
	if c.MaxPollBatches < 1 {
		return fmt.Errorf("max_poll_batches must be at least 1 (got %d)", c.MaxPollBatches)
	}
	return nil
}

// Classifier runs the triage stage for a session.
type Classifier struct {
	store   storage.Storage
	batches ai.BatchService
	cfg     Config
}

// New creates a triage classifier.
func New(store storage.Storage, batches ai.BatchService, cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid triage config: %w", err)
	}
	return &Classifier{store: store, batches: batches, cfg: cfg}, nil
}

// triageResponse is the JSON object the model is instructed to emit.
type triageResponse struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Run classifies every untriaged document in the session. Documents already
// carrying a triage status are untouched, so a rerun after a crash picks up
// exactly where the previous run stopped.
func (c *Classifier) Run(ctx context.Context, sessionID string) (*types.TriageStats, error) {
	stats := &types.TriageStats{}

	docs, err := c.store.FindUntriaged(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find untriaged documents: %w", err)
	}
	if len(docs) == 0 {
		slog.Info("triage: nothing to classify", "session", sessionID)
		return stats, nil
	}

	slog.Info("triage: submitting documents", "session", sessionID, "documents", len(docs),
		"batches", (len(docs)+c.cfg.BatchSize-1)/c.cfg.BatchSize)

	// Submit everything up front. Handles are logged by the batch service at
	// submission time; if this process dies during polling, operators feed
	// those handles to Recover.
	var handles []string
	for start := 0; start < len(docs); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(docs))

		items := make([]ai.BatchItem, 0, end-start)
		for _, doc := range docs[start:end] {
			items = append(items, ai.BatchItem{
				ID:        doc.ID,
				Prompt:    c.buildPrompt(doc),
				Model:     c.cfg.Model,
				MaxTokens: c.cfg.MaxTokens,
			})
		}

		handle, err := c.batches.SubmitBatch(ctx, items)
		if err != nil {
			// Submission failure is a stage-level error, but batches already
			// submitted keep running; log their handles before bailing out.
			if len(handles) > 0 {
				slog.Error("triage: submission aborted with batches in flight",
					"submitted_handles", strings.Join(handles, ","))
			}
			return nil, fmt.Errorf("failed to submit triage batch: %w", err)
		}
		handles = append(handles, handle)
	}

	results := c.collectBatches(ctx, handles, stats)
	for _, result := range results {
		if err := c.mergeResult(ctx, result, stats); err != nil {
			return nil, err
		}
	}

	slog.Info("triage: completed", "session", sessionID,
		"classified", stats.Total, "uncertain", stats.Uncertain,
		"parse_failures", stats.ParseFailures, "failed_batches", stats.FailedBatches)
	return stats, nil
}

// Recover re-fetches and re-merges results for externally supplied batch
// handles, independent of any in-memory state from the submitting process.
// Only documents whose triage status is still null are written; handles whose
// results were already merged produce zero writes.
func (c *Classifier) Recover(ctx context.Context, sessionID string, handles []string) (*types.TriageStats, error) {
	if len(handles) == 0 {
		return nil, fmt.Errorf("no batch handles supplied")
	}

	stats := &types.TriageStats{}
	slog.Info("triage: recovering from batch handles", "session", sessionID, "handles", len(handles))

	results := c.collectBatches(ctx, handles, stats)
	for _, result := range results {
		if err := c.mergeResult(ctx, result, stats); err != nil {
			return nil, err
		}
	}

	slog.Info("triage: recovery merged", "session", sessionID,
		"written", stats.Total, "skipped", stats.Skipped, "failed_batches", stats.FailedBatches)
	return stats, nil
}

// collectBatches polls the given handles concurrently and gathers every
// item result from batches that reached a terminal state. A stuck or failed
// batch is counted against stats and skipped; it never fails its siblings.
func (c *Classifier) collectBatches(ctx context.Context, handles []string, stats *types.TriageStats) []ai.BatchResult {
	var mu sync.Mutex
	var all []ai.BatchResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxPollBatches)

	for _, handle := range handles {
		handle := handle
		g.Go(func() error {
			results, err := c.pollBatch(gctx, handle)
			if err != nil {
				slog.Warn("triage: batch did not complete, handle preserved for recovery",
					"handle", handle, "error", err)
				mu.Lock()
				stats.FailedBatches++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	// Goroutines only return nil; Wait is for joining.
	_ = g.Wait()

	return all
}

// pollBatch waits for one batch to reach a terminal state, with exponential
// backoff between status checks and an overall deadline, then streams its
// results.
func (c *Classifier) pollBatch(ctx context.Context, handle string) ([]ai.BatchResult, error) {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	interval := c.cfg.PollInterval

	for {
		state, err := c.batches.BatchStatus(ctx, handle)
		if err != nil {
			return nil, err
		}

		switch state {
		case ai.BatchCompleted:
			return c.batches.BatchResults(ctx, handle)
		case ai.BatchErrored:
			return nil, fmt.Errorf("batch %s: %w", handle, ErrBatchFailed)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("batch %s: %w after %v", handle, ErrBatchIncomplete, c.cfg.PollTimeout)
		}

		slog.Debug("triage: batch still pending", "handle", handle, "next_poll", interval)
		select {
		case <-time.After(interval):
			interval = time.Duration(float64(interval) * 1.5)
			if interval > c.cfg.PollMaxInterval {
				interval = c.cfg.PollMaxInterval
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("batch %s: %w: %v", handle, ErrBatchIncomplete, ctx.Err())
		}
	}
}

// mergeResult writes one item outcome. This is the only write path for
// triage fields, and it skips documents that already have an outcome, from
// this run or any earlier one.
func (c *Classifier) mergeResult(ctx context.Context, result ai.BatchResult, stats *types.TriageStats) error {
	doc, err := c.store.GetDocument(ctx, result.ItemID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", result.ItemID, err)
	}
	if doc == nil {
		slog.Warn("triage: result for unknown document", "id", result.ItemID)
		return nil
	}
	if doc.Triaged() {
		stats.Skipped++
		return nil
	}

	status, confidence, reason := c.interpret(result, stats)
	if err := c.store.UpdateTriage(ctx, doc.ID, status, confidence, reason); err != nil {
		return fmt.Errorf("failed to write triage for %s: %w", doc.ID, err)
	}
	stats.Count(status)
	return nil
}

// interpret turns a raw item result into a terminal triage outcome. Item
// errors and unparseable output are downgraded to Uncertain, never retried.
func (c *Classifier) interpret(result ai.BatchResult, stats *types.TriageStats) (types.TriageStatus, float64, string) {
	if result.Err != "" {
		return types.TriageUncertain, 0, "batch item error: " + result.Err
	}

	parsed := ai.Parse[triageResponse](result.Text, "triage result "+result.ItemID)
	if !parsed.Success {
		stats.ParseFailures++
		return types.TriageUncertain, 0, "unparseable classification response: " + parsed.Error
	}

	status, ok := parseStatusLabel(parsed.Data.Status)
	if !ok {
		stats.ParseFailures++
		return types.TriageUncertain, 0, fmt.Sprintf("unknown classification label %q", parsed.Data.Status)
	}

	confidence := parsed.Data.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return status, confidence, parsed.Data.Reason
}

// parseStatusLabel maps the model's label vocabulary onto TriageStatus.
func parseStatusLabel(label string) (types.TriageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "firmdrafted", "firm_drafted":
		return types.TriageFirmDrafted, true
	case "thirdparty", "third_party":
		return types.TriageThirdParty, true
	case "irrelevant":
		return types.TriageIrrelevant, true
	case "courtdoc", "court_doc":
		return types.TriageCourtDoc, true
	case "uncertain":
		return types.TriageUncertain, true
	}
	return "", false
}

// buildPrompt constructs the classification prompt for one document.
func (c *Classifier) buildPrompt(doc *types.Document) string {
	var b strings.Builder

	b.WriteString(`You are triaging documents extracted from a law firm's legacy email archive.

Classify the document below into exactly one category:
- FirmDrafted: drafted by the firm's own attorneys or staff
- ThirdParty: authored outside the firm (opposing counsel, clients, vendors)
- Irrelevant: not a substantive document (signatures, disclaimers, junk)
- CourtDoc: filed with or issued by a court
- Uncertain: cannot be determined from the text

Respond with only a JSON object:
{"status": "<category>", "confidence": <0.0-1.0>, "reason": "<one short sentence>"}

`)

	if doc.Subject != "" {
		fmt.Fprintf(&b, "Message subject: %s\n", doc.Subject)
	}
	if doc.Sender != "" {
		fmt.Fprintf(&b, "Message sender: %s\n", doc.Sender)
	}

	content := doc.Content
	if len(content) > c.cfg.MaxPromptChars {
		content = content[:c.cfg.MaxPromptChars]
	}
	fmt.Fprintf(&b, "\nDocument text:\n%s\n", content)

	return b.String()
}
