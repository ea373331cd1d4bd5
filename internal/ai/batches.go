package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
)

// BatchState is the coarse lifecycle of a submitted batch as the pipeline
// sees it. The service-specific status vocabulary is mapped down to these
// three values so stages never depend on a vendor's wire format.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchCompleted BatchState = "completed"
	BatchErrored   BatchState = "errored"
)

// BatchItem is one work item in a submitted batch. ID must be unique within
// the batch; it round-trips through the service so results can be matched
// back to documents.
type BatchItem struct {
	ID        string
	Prompt    string
	Model     string // empty = service default
	MaxTokens int    // 0 = service default
}

// BatchResult is one item's outcome streamed back from a completed batch.
// Exactly one of Text or Err is meaningful: a non-empty Err marks an
// item-level service failure (the item will never produce output).
type BatchResult struct {
	ItemID string
	Text   string
	Err    string
}

// BatchService is the asynchronous bulk-inference service the triage stage
// submits to. Implementations must tolerate handles that outlive the
// submitting process: BatchStatus and BatchResults take bare handles so a
// recovery pass can reconcile batches submitted by an earlier, killed run.
type BatchService interface {
	// SubmitBatch submits items for asynchronous processing and returns the
	// service's opaque batch handle.
	SubmitBatch(ctx context.Context, items []BatchItem) (string, error)

	// BatchStatus reports whether the batch has reached a terminal state.
	BatchStatus(ctx context.Context, handle string) (BatchState, error)

	// BatchResults streams the per-item outcomes of a terminal batch.
	BatchResults(ctx context.Context, handle string) ([]BatchResult, error)
}

// AnthropicBatches implements BatchService on the Anthropic Message Batches
// API. Batch requests run at batch pricing and may take minutes to hours to
// reach a terminal state, which is why the pipeline polls rather than waits.
type AnthropicBatches struct {
	client *Client
}

// NewAnthropicBatches wraps the shared client as a BatchService.
func NewAnthropicBatches(client *Client) *AnthropicBatches {
	return &AnthropicBatches{client: client}
}

var _ BatchService = (*AnthropicBatches)(nil)

// SubmitBatch submits one Message Batch. The returned handle is logged at
// Info so operators can run detached recovery if this process dies before
// the batch completes.
func (b *AnthropicBatches) SubmitBatch(ctx context.Context, items []BatchItem) (string, error) {
	requests := make([]anthropic.MessageBatchNewParamsRequest, 0, len(items))
	for _, item := range items {
		model := item.Model
		if model == "" {
			model = b.client.model
		}
		maxTokens := item.MaxTokens
		if maxTokens == 0 {
			maxTokens = 1024
		}
		requests = append(requests, anthropic.MessageBatchNewParamsRequest{
			CustomID: item.ID,
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:     anthropic.Model(model),
				MaxTokens: int64(maxTokens),
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(item.Prompt)),
				},
			},
		})
	}

	var batch *anthropic.MessageBatch
	err := b.client.retryWithBackoff(ctx, "submit-batch", func(attemptCtx context.Context) error {
		resp, apiErr := b.client.client.Messages.Batches.New(attemptCtx, anthropic.MessageBatchNewParams{
			Requests: requests,
		})
		if apiErr != nil {
			return apiErr
		}
		batch = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit batch of %d items: %w", len(items), err)
	}

	slog.Info("submitted message batch", "handle", batch.ID, "items", len(items))
	return batch.ID, nil
}

// BatchStatus maps the service's processing status onto BatchState.
func (b *AnthropicBatches) BatchStatus(ctx context.Context, handle string) (BatchState, error) {
	var batch *anthropic.MessageBatch
	err := b.client.retryWithBackoff(ctx, "batch-status", func(attemptCtx context.Context) error {
		resp, apiErr := b.client.client.Messages.Batches.Get(attemptCtx, handle)
		if apiErr != nil {
			return apiErr
		}
		batch = resp
		return nil
	})
	if err != nil {
		return BatchErrored, fmt.Errorf("failed to fetch status for batch %s: %w", handle, err)
	}

	switch batch.ProcessingStatus {
	case anthropic.MessageBatchProcessingStatusEnded:
		return BatchCompleted, nil
	case anthropic.MessageBatchProcessingStatusInProgress, anthropic.MessageBatchProcessingStatusCanceling:
		return BatchPending, nil
	default:
		return BatchErrored, nil
	}
}

// BatchResults streams and collects per-item outcomes for a terminal batch.
// Item-level failures are returned as results with Err set, not as a call
// error: one expired item must not discard its siblings.
func (b *AnthropicBatches) BatchResults(ctx context.Context, handle string) ([]BatchResult, error) {
	var results []BatchResult

	stream := b.client.client.Messages.Batches.ResultsStreaming(ctx, handle)
	for stream.Next() {
		entry := stream.Current()
		switch variant := entry.Result.AsAny().(type) {
		case anthropic.MessageBatchSucceededResult:
			var text string
			for _, block := range variant.Message.Content {
				if block.Type == "text" {
					text += block.Text
				}
			}
			results = append(results, BatchResult{ItemID: entry.CustomID, Text: text})
		case anthropic.MessageBatchErroredResult:
			results = append(results, BatchResult{
				ItemID: entry.CustomID,
				Err:    fmt.Sprintf("batch item errored: %s", variant.Error.RawJSON()),
			})
		case anthropic.MessageBatchCanceledResult:
			results = append(results, BatchResult{ItemID: entry.CustomID, Err: "batch item canceled"})
		case anthropic.MessageBatchExpiredResult:
			results = append(results, BatchResult{ItemID: entry.CustomID, Err: "batch item expired"})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream results for batch %s: %w", handle, err)
	}

	slog.Debug("streamed batch results", "handle", handle, "items", len(results))
	return results, nil
}
