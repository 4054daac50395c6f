package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/54b3r/crag-go/internal/logging"
)

// FusionConfig holds the hybrid search and rank fusion parameters.
type FusionConfig struct {
	// SemanticTopK is how many candidates the vector search returns.
	SemanticTopK int
	// LexicalTopK is how many candidates the lexical search returns.
	LexicalTopK int
	// RRFK is the reciprocal-rank-fusion dampening constant.
	RRFK int
	// SemanticWeight scales vector-side contributions.
	SemanticWeight float64
	// LexicalWeight scales lexical-side contributions.
	LexicalWeight float64
}

// HybridRetriever combines vector and lexical search with weighted
// reciprocal rank fusion: score(d) = Σ weight / (K + rank(d)) over the
// result lists that contain d.
type HybridRetriever struct {
	vector   VectorIndex
	lexical  LexicalIndex
	embedder QueryEmbedder
	cfg      FusionConfig
}

// NewHybridRetriever constructs a HybridRetriever over the dual index.
func NewHybridRetriever(vector VectorIndex, lexical LexicalIndex, embedder QueryEmbedder, cfg FusionConfig) (*HybridRetriever, error) {
	if vector == nil || lexical == nil || embedder == nil {
		return nil, fmt.Errorf("rag: hybrid retriever requires vector index, lexical index, and embedder")
	}
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = 20
	}
	if cfg.LexicalTopK <= 0 {
		cfg.LexicalTopK = 20
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	return &HybridRetriever{vector: vector, lexical: lexical, embedder: embedder, cfg: cfg}, nil
}

// Retrieve runs both searches concurrently, fuses the result lists, and
// returns the topK fused chunks sorted by descending score. filter applies
// to the vector side only; the lexical index has no payloads to filter on.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topK int, filter map[string]string) ([]RetrievedChunk, error) {
	log := logging.FromContext(ctx)
	log.Info("hybrid retrieval",
		slog.String("query", truncateForLog(query)),
		slog.Int("top_k", topK),
	)

	var wg sync.WaitGroup
	var vecResults, lexResults []RetrievedChunk
	var vecErr, lexErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		embedding, err := h.embedder.EmbedQuery(ctx, query)
		if err != nil {
			vecErr = fmt.Errorf("rag: embedding query failed: %w", err)
			return
		}
		vecResults, vecErr = h.vector.Search(ctx, embedding, h.cfg.SemanticTopK, filter)
	}()
	go func() {
		defer wg.Done()
		lexResults, lexErr = h.lexical.Search(query, h.cfg.LexicalTopK)
	}()
	wg.Wait()

	if vecErr != nil {
		return nil, vecErr
	}
	if lexErr != nil {
		return nil, lexErr
	}

	fused := h.fuse(ctx, vecResults, lexResults)
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}

	log.Info("hybrid retrieval complete",
		slog.Int("vector_hits", len(vecResults)),
		slog.Int("lexical_hits", len(lexResults)),
		slog.Int("fused", len(fused)),
	)
	return fused, nil
}

// fuse applies weighted reciprocal rank fusion over the two ranked lists.
// Chunks found only lexically get their text and metadata backfilled from
// the vector index; if the lookup misses, the lexical text stands in.
// Score ties keep first-contribution order, which favors vector results.
func (h *HybridRetriever) fuse(ctx context.Context, vecResults, lexResults []RetrievedChunk) []RetrievedChunk {
	log := logging.FromContext(ctx)
	k := float64(h.cfg.RRFK)

	byID := make(map[string]*RetrievedChunk)
	var order []string

	for _, r := range vecResults {
		chunk := r
		chunk.Score = h.cfg.SemanticWeight / (k + float64(r.VectorRank))
		byID[r.ChunkID] = &chunk
		order = append(order, r.ChunkID)
	}

	for _, r := range lexResults {
		if existing, ok := byID[r.ChunkID]; ok {
			existing.Score += h.cfg.LexicalWeight / (k + float64(r.LexicalRank))
			existing.LexicalRank = r.LexicalRank
			continue
		}

		chunk := r
		chunk.Score = h.cfg.LexicalWeight / (k + float64(r.LexicalRank))
		if stored, err := h.vector.Get(ctx, r.ChunkID); err == nil {
			chunk.Text = stored.Text
			chunk.Metadata = stored.Metadata
		} else if !errors.Is(err, ErrNotFound) {
			log.Warn("metadata backfill failed, using lexical text",
				slog.String("chunk_id", r.ChunkID),
				slog.Any("error", err),
			)
		}
		byID[r.ChunkID] = &chunk
		order = append(order, r.ChunkID)
	}

	fused := make([]RetrievedChunk, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(a, b int) bool {
		return fused[a].Score > fused[b].Score
	})
	return fused
}

// truncateForLog keeps query log lines bounded.
func truncateForLog(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:100] + "..."
}
