package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/crag-go/internal/budget"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/rag"
	"github.com/54b3r/crag-go/internal/retry"
)

// queryEmbedder is implemented by backends that distinguish query inputs
// (Voyage). Backends without the distinction embed queries like documents.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client wraps a backend embedder with batching, retries, and cost tracking.
// It implements both rag.Embedder and rag.QueryEmbedder, so the same instance
// serves ingestion and retrieval.
type Client struct {
	// backend performs the actual embedding calls.
	backend rag.Embedder
	// batchSize is the maximum texts per API call.
	batchSize int
	// policy is the shared retry policy applied per batch.
	policy retry.Policy
	// costs attributes embedding spend.
	costs *costs.Tracker
}

// NewClient wraps backend with batching and retries. batchSize <= 0 uses the
// configured default; tracker may be nil.
func NewClient(backend rag.Embedder, batchSize int, policy retry.Policy, tracker *costs.Tracker) *Client {
	if batchSize <= 0 {
		batchSize = 128
	}
	if tracker == nil {
		tracker = costs.NewTracker()
	}
	return &Client{backend: backend, batchSize: batchSize, policy: policy, costs: tracker}
}

// NewClientFromEnv resolves the backend via NewFromEnv and wraps it.
func NewClientFromEnv(batchSize int, policy retry.Policy, tracker *costs.Tracker) (*Client, error) {
	backend, err := NewFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(backend, batchSize, policy, tracker), nil
}

// Embed converts texts into embeddings in order-preserving batches of at most
// batchSize. Each batch is retried under the policy; a batch that exhausts its
// retries fails the whole call, since a partial embedding set cannot be
// indexed consistently.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log := logging.FromContext(ctx)
	embeddings := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		log.Debug("embedding batch",
			slog.Int("start", start),
			slog.Int("size", len(batch)),
			slog.Int("total", len(texts)),
		)

		vectors, err := retry.Do(ctx, c.policy, "embeddings",
			func(ctx context.Context) ([][]float32, error) {
				return c.backend.Embed(ctx, batch)
			})
		if err != nil {
			return nil, fmt.Errorf("embedder: batch starting at %d failed: %w", start, err)
		}

		tokens := 0
		for _, t := range batch {
			tokens += budget.Estimate(t)
		}
		c.costs.Add(costs.OpEmbeddings, costs.EmbeddingCost(tokens))

		embeddings = append(embeddings, vectors...)
	}

	return embeddings, nil
}

// EmbedQuery embeds one search query. Backends that distinguish query inputs
// get the query variant; others embed the text as a single-element batch.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if qe, ok := c.backend.(queryEmbedder); ok {
		vector, err := retry.Do(ctx, c.policy, "query_embedding",
			func(ctx context.Context) ([]float32, error) {
				return qe.EmbedQuery(ctx, text)
			})
		if err != nil {
			return nil, fmt.Errorf("embedder: query embedding failed: %w", err)
		}
		c.costs.Add(costs.OpEmbeddings, costs.EmbeddingCost(budget.Estimate(text)))
		return vector, nil
	}

	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}
