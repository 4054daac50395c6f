// Package enricher generates a short situating description for each chunk
// and prepends it to the chunk text, improving retrieval of chunks whose
// wording is ambiguous out of context.
//
// The full document is sent as its own system segment on every call so
// providers with prompt caching can reuse it across the whole batch.
package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/crag-go/internal/budget"
	"github.com/54b3r/crag-go/internal/chunker"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/retry"
)

// situatePrompt is the per-chunk user message. The wording follows the
// published contextual-retrieval prompt; changing it degrades retrieval
// quality measurably, so keep it verbatim.
const situatePrompt = `Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>

Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.`

// EnrichedChunk pairs a chunk with its situating description.
type EnrichedChunk struct {
	// Chunk is the source semantic chunk, unmodified.
	Chunk chunker.SemanticChunk `json:"chunk"`
	// ContextualDescription is the model-generated situating text.
	ContextualDescription string `json:"contextual_description"`
	// FullText is description + "\n\n" + chunk text; this is what gets
	// embedded and indexed.
	FullText string `json:"full_text"`
}

// TokenCount estimates the token count of the enriched text.
func (e *EnrichedChunk) TokenCount() int {
	return budget.Estimate(e.FullText)
}

// Result aggregates a batch enrichment run.
type Result struct {
	// Chunks is every successfully enriched chunk, in input order.
	Chunks []EnrichedChunk
	// ChunksSkipped counts chunks dropped after their enrichment call
	// failed all retries.
	ChunksSkipped int
}

// Enricher generates situating descriptions via a chat model.
type Enricher struct {
	model model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	retry retry.Policy
	costs *costs.Tracker
}

// New constructs an Enricher. tracker may be nil.
func New(m model.ChatModel, policy retry.Policy, tracker *costs.Tracker) *Enricher { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream
	if tracker == nil {
		tracker = costs.NewTracker()
	}
	return &Enricher{model: m, retry: policy, costs: tracker}
}

// EnrichChunk generates the situating description for one chunk. The
// document text travels as a separate system segment so the provider can
// cache it across calls.
func (e *Enricher) EnrichChunk(ctx context.Context, chunk chunker.SemanticChunk, fullDocument string) (EnrichedChunk, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf("<document>\n%s\n</document>", fullDocument)),
		schema.UserMessage(fmt.Sprintf(situatePrompt, chunk.Text)),
	}

	desc, err := retry.Do(ctx, e.retry, "contextualization",
		func(ctx context.Context) (string, error) {
			resp, err := e.model.Generate(ctx, msgs)
			if err != nil {
				return "", fmt.Errorf("enricher: model call failed for %s: %w", chunk.ChunkID, err)
			}
			e.costs.Add(costs.OpContextualization, callCost(msgs, resp))
			return strings.TrimSpace(resp.Content), nil
		})
	if err != nil {
		return EnrichedChunk{}, err
	}

	return EnrichedChunk{
		Chunk:                 chunk,
		ContextualDescription: desc,
		FullText:              desc + "\n\n" + chunk.Text,
	}, nil
}

// EnrichChunks enriches a batch sequentially, preserving input order so the
// cached document segment stays warm. Chunks whose calls fail are dropped
// and counted rather than failing the batch.
func (e *Enricher) EnrichChunks(ctx context.Context, chunks []chunker.SemanticChunk, doc *document.Document) (*Result, error) {
	log := logging.FromContext(ctx)
	log.Info("enriching chunks",
		slog.Int("count", len(chunks)),
		slog.String("document", doc.Title),
		slog.Int("document_tokens", doc.TotalTokens),
	)

	res := &Result{Chunks: make([]EnrichedChunk, 0, len(chunks))}
	for i, chunk := range chunks {
		enriched, err := e.EnrichChunk(ctx, chunk, doc.FullText)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("enricher: batch aborted: %w", ctx.Err())
			}
			log.Error("failed to enrich chunk, dropping",
				slog.String("chunk_id", chunk.ChunkID),
				slog.Any("error", err),
			)
			res.ChunksSkipped++
			continue
		}
		res.Chunks = append(res.Chunks, enriched)

		if i == 0 {
			log.Debug("example enrichment",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("context", enriched.ContextualDescription),
			)
		}
	}

	log.Info("contextual enrichment complete",
		slog.Int("enriched", len(res.Chunks)),
		slog.Int("skipped", res.ChunksSkipped),
	)
	return res, nil
}

// callCost computes the cost of one enrichment call, preferring
// provider-reported usage over the character heuristic.
func callCost(msgs []*schema.Message, resp *schema.Message) float64 {
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		u := resp.ResponseMeta.Usage
		return costs.CompletionCost(u.PromptTokens, u.CompletionTokens, 0)
	}
	input := 0
	for _, m := range msgs {
		input += budget.Estimate(m.Content)
	}
	return costs.CompletionCost(input, budget.Estimate(resp.Content), 0)
}
