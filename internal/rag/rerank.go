package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/retry"
)

// Reranker refines a fused candidate list with a cross-encoder rerank API
// (Cohere wire format). A rerank failure is not fatal: the fused order is
// already useful, so after retries are exhausted the reranker falls back to
// the first topN input chunks.
type Reranker struct {
	// endpoint is the rerank API base URL.
	endpoint string
	// apiKey is the Bearer token.
	apiKey string
	// model is the rerank model name (e.g. "rerank-v3.5").
	model string
	// topN is the default number of chunks kept.
	topN int
	// policy is the shared retry policy.
	policy retry.Policy
	// costs attributes per-search spend.
	costs *costs.Tracker
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// RerankConfig holds the settings for constructing a Reranker.
type RerankConfig struct {
	// Endpoint is the rerank API base URL (default: https://api.cohere.com/v2).
	Endpoint string
	// APIKey is the authentication key.
	APIKey string
	// Model is the rerank model name (default: rerank-v3.5).
	Model string
	// TopN is the default result count.
	TopN int
	// Retry is the shared retry policy.
	Retry retry.Policy
}

// NewReranker constructs a Reranker. tracker may be nil.
func NewReranker(cfg *RerankConfig, tracker *costs.Tracker) *Reranker {
	if tracker == nil {
		tracker = costs.NewTracker()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.cohere.com/v2"
	}
	model := cfg.Model
	if model == "" {
		model = "rerank-v3.5"
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}
	return &Reranker{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		topN:     topN,
		policy:   cfg.Retry,
		costs:    tracker,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewRerankerFromEnv constructs a Reranker from RERANK_* env vars. Returns
// nil when RERANK_API_KEY is unset — the caller then skips reranking.
func NewRerankerFromEnv(policy retry.Policy, tracker *costs.Tracker) *Reranker {
	apiKey := os.Getenv("RERANK_API_KEY")
	if apiKey == "" {
		return nil
	}
	topN := 0
	if raw := os.Getenv("RERANK_TOP_N"); raw != "" {
		fmt.Sscanf(raw, "%d", &topN) //nolint:errcheck // unparseable value falls through to default
	}
	return NewReranker(&RerankConfig{
		Endpoint: os.Getenv("RERANK_ENDPOINT"),
		APIKey:   apiKey,
		Model:    os.Getenv("RERANK_MODEL"),
		TopN:     topN,
		Retry:    policy,
	}, tracker)
}

// rerankRequest is the JSON body sent to the rerank endpoint.
type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

// rerankResponse is the JSON body returned from the rerank endpoint.
type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Message string `json:"message,omitempty"`
}

// Rerank reorders chunks by cross-encoder relevance and keeps the top n
// (n <= 0 uses the configured default). An empty input returns empty without
// an API call. After retries are exhausted the fused order is kept and the
// first n chunks are returned instead.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []RetrievedChunk, n int) []RetrievedChunk {
	log := logging.FromContext(ctx)

	if len(chunks) == 0 {
		return []RetrievedChunk{}
	}
	if n <= 0 {
		n = r.topN
	}

	log.Info("reranking chunks", slog.Int("candidates", len(chunks)), slog.Int("top_n", n))

	reranked, err := retry.Do(ctx, r.policy, "reranking",
		func(ctx context.Context) ([]RetrievedChunk, error) {
			return r.call(ctx, query, chunks, n)
		})
	if err != nil {
		log.Warn("reranking failed, falling back to fused order",
			slog.Any("error", err),
		)
		if n > len(chunks) {
			n = len(chunks)
		}
		return chunks[:n]
	}

	r.costs.Add(costs.OpReranking, costs.RerankCost())
	return reranked
}

// call performs one rerank API request.
func (r *Reranker) call(ctx context.Context, query string, chunks []RetrievedChunk, n int) ([]RetrievedChunk, error) {
	documents := make([]string, len(chunks))
	for i, c := range chunks {
		documents[i] = c.Text
	}

	payload, err := json.Marshal(rerankRequest{
		Model:           r.model,
		Query:           query,
		Documents:       documents,
		TopN:            n,
		ReturnDocuments: false,
	})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reranker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("reranker: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Message != "" {
			msg = result.Message
		}
		return nil, fmt.Errorf("reranker: %s", msg)
	}

	reranked := make([]RetrievedChunk, 0, len(result.Results))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(chunks) {
			return nil, fmt.Errorf("reranker: index %d out of range [0, %d)", res.Index, len(chunks))
		}
		chunk := chunks[res.Index]
		chunk.Score = res.RelevanceScore
		reranked = append(reranked, chunk)
	}
	return reranked, nil
}
